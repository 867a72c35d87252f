package scrimmage

import "github.com/acm-cmu/awap-matchmaking/internal/domain"

// Pairing is one scheduled game. Lower is the lower-rated side and plays as
// team1 on the runner.
type Pairing struct {
	Lower  domain.MatchPlayer
	Higher domain.MatchPlayer
}

// Pairings pairs every team against up to window of its rating neighbors.
// players must be sorted highest rating first. Each unordered pair appears at
// most once.
//
// The window is anchored at i-window/2 and clamped so it stays inside the
// roster, which means teams near the edges of the table reach further than
// window/2 in one direction.
func Pairings(players []domain.MatchPlayer, window int) []Pairing {
	n := len(players)
	maxBase := n - 1 - window
	if maxBase < 0 {
		maxBase = 0
	}

	seen := make(map[[2]int]bool)
	var out []Pairing
	for i := 0; i < n; i++ {
		base := i - window/2
		if base < 0 {
			base = 0
		}
		if base > maxBase {
			base = maxBase
		}
		for j := base; j <= base+window; j++ {
			if j == i || j >= n {
				continue
			}
			lo, hi := i, j
			if lo > hi {
				lo, hi = hi, lo
			}
			key := [2]int{lo, hi}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Pairing{Lower: players[hi], Higher: players[lo]})
		}
	}
	return out
}
