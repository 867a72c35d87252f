package tournament

import "github.com/acm-cmu/awap-matchmaking/internal/domain"

// Seed pads the entrant list (highest rating first) with byes up to a power
// of two, never fewer than two slots. A nil entry is a bye.
func Seed(entrants []domain.MatchPlayer) []*domain.MatchPlayer {
	size := 2
	for size < len(entrants) {
		size *= 2
	}
	seeds := make([]*domain.MatchPlayer, size)
	for i := range entrants {
		p := entrants[i]
		seeds[i] = &p
	}
	return seeds
}

// Interleave pairs the strongest remaining seed with the weakest. Applied to
// every layer's survivors, it keeps the top seeds apart for as long as
// possible.
func Interleave(seeds []*domain.MatchPlayer) [][2]*domain.MatchPlayer {
	pairs := make([][2]*domain.MatchPlayer, 0, len(seeds)/2)
	for i := 0; i < len(seeds)/2; i++ {
		pairs = append(pairs, [2]*domain.MatchPlayer{seeds[i], seeds[len(seeds)-1-i]})
	}
	return pairs
}
