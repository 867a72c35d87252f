package scrimmage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWinProbabilityEvenMatch(t *testing.T) {
	assert.InDelta(t, 0.5, WinProbability(1500, 1500), 1e-9)
}

func TestWinProbabilityComplements(t *testing.T) {
	p := WinProbability(1600, 1300)
	q := WinProbability(1300, 1600)
	assert.InDelta(t, 1.0, p+q, 1e-9)
	assert.Greater(t, p, 0.5)
}

func TestRatingDeltaTruncates(t *testing.T) {
	// 20 * (1 - 0.5) = 10 for an even match.
	assert.Equal(t, 10, RatingDelta(1500, 1500))
	// Upsets transfer more points than expected wins.
	assert.Equal(t, 12, RatingDelta(1500, 1600))
	assert.Equal(t, 15, RatingDelta(1400, 1600))
	assert.Equal(t, 16, RatingDelta(1300, 1600))
	// The favored side gains little for winning.
	assert.Equal(t, 3, RatingDelta(1600, 1300))
}
