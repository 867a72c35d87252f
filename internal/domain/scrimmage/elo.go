package scrimmage

import "math"

const (
	// KFactor bounds how much a single game can move a rating.
	KFactor = 20

	// WindowSize is how many rating neighbors each team is paired against.
	WindowSize = 4
)

// WinProbability is the expected score of a player rated a against one
// rated b.
func WinProbability(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// RatingDelta is the number of points the winner gains from the loser.
// The transfer is symmetric, so total rating across both players is
// preserved.
func RatingDelta(winnerRating, loserRating int) int {
	return int(KFactor * (1 - WinProbability(winnerRating, loserRating)))
}
