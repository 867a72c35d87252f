// Package cache mirrors team ratings into a Redis sorted set so leaderboard
// consumers do not have to scan the player table. All writes are best-effort:
// the database row is the source of truth.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

const leaderboardKey = "leaderboard:ratings"

// Leaderboard holds the Redis client. A nil *Leaderboard is a valid no-op.
type Leaderboard struct {
	rdb *redis.Client
	log *logger.Logger
}

// NewLeaderboard connects to Redis at addr. Returns nil when addr is empty,
// which disables the mirror.
func NewLeaderboard(addr string, log *logger.Logger) *Leaderboard {
	if addr == "" {
		return nil
	}
	return &Leaderboard{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log.Named("leaderboard"),
	}
}

// UpdateRating records a team's new rating in the sorted set.
func (l *Leaderboard) UpdateRating(ctx context.Context, teamName string, rating int) {
	if l == nil {
		return
	}
	err := l.rdb.ZAdd(ctx, leaderboardKey, redis.Z{
		Score:  float64(rating),
		Member: teamName,
	}).Err()
	if err != nil {
		l.log.Error("failed to update leaderboard cache",
			zap.String("team", teamName), zap.Error(err))
	}
}

// Top returns the n highest-rated teams, best first.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	return l.rdb.ZRevRange(ctx, leaderboardKey, 0, int64(n-1)).Result()
}

// Close releases the Redis connection.
func (l *Leaderboard) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}
