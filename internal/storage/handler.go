// Package storage composes object storage, the tabular database and the
// leaderboard mirror into the single adapter the orchestrators talk to.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/replay"
	"github.com/acm-cmu/awap-matchmaking/internal/storage/cache"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// DefaultReplayTTL is how long presigned replay URLs stay valid.
const DefaultReplayTTL = 12 * time.Hour

// ObjectStore is the blob-side dependency of the handler.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, body []byte) error
	Download(ctx context.Context, bucket, key, localPath string) error
	PresignGet(bucket, key string, ttl time.Duration) (string, error)
}

// MatchStore is the match-table dependency of the handler.
type MatchStore interface {
	InsertPending(ctx context.Context, rec domain.MatchRecord) error
	MarkFinished(ctx context.Context, rec domain.MatchRecord) error
	MarkFailed(ctx context.Context, matchID uint64) error
	NextMatchID(ctx context.Context) (uint64, error)
	Get(ctx context.Context, matchID uint64) (domain.MatchRecord, error)
}

// PlayerStore is the rating-table dependency of the handler.
type PlayerStore interface {
	Rating(ctx context.Context, teamName string) (int, error)
	SetRating(ctx context.Context, teamName string, rating int) error
}

// Buckets names the three object-storage destinations.
type Buckets struct {
	Replays     string
	Tournaments string
	ErrorLogs   string
}

// Handler implements the storage operations of the orchestration engine.
type Handler struct {
	objects     ObjectStore
	matches     MatchStore
	players     PlayerStore
	leaderboard *cache.Leaderboard
	buckets     Buckets
	replayTTL   time.Duration
	log         *logger.Logger
}

// New wires a handler. leaderboard may be nil.
func New(objects ObjectStore, matches MatchStore, players PlayerStore,
	leaderboard *cache.Leaderboard, buckets Buckets, replayTTL time.Duration, log *logger.Logger) *Handler {
	if replayTTL <= 0 {
		replayTTL = DefaultReplayTTL
	}
	return &Handler{
		objects:     objects,
		matches:     matches,
		players:     players,
		leaderboard: leaderboard,
		buckets:     buckets,
		replayTTL:   replayTTL,
		log:         log.Named("storage"),
	}
}

// ProcessReplay decodes raw runner output and archives it. A played-out
// replay line is uploaded to the replay bucket under destFilename; forfeit
// and unparseable output goes to the error-log bucket for forensics. The
// returned winner is 1 (red/team1) or 2 (blue/team2).
func (h *Handler) ProcessReplay(ctx context.Context, raw []byte, destFilename string) (int, error) {
	res, err := replay.Parse(raw)
	if err != nil {
		if uploadErr := h.objects.Upload(ctx, h.buckets.ErrorLogs, destFilename, raw); uploadErr != nil {
			h.log.Error("failed to archive unparseable runner output",
				zap.String("filename", destFilename), zap.Error(uploadErr))
		}
		return 0, err
	}

	if res.Forfeit {
		if uploadErr := h.objects.Upload(ctx, h.buckets.ErrorLogs, destFilename, raw); uploadErr != nil {
			h.log.Error("failed to archive forfeit output",
				zap.String("filename", destFilename), zap.Error(uploadErr))
		}
		h.log.Info("match decided by forfeit",
			zap.String("filename", destFilename), zap.Int("winner", res.Winner))
		return res.Winner, nil
	}

	if err := h.objects.Upload(ctx, h.buckets.Replays, destFilename, res.Payload); err != nil {
		return 0, fmt.Errorf("upload replay %s: %w", destFilename, err)
	}
	return res.Winner, nil
}

// ReplayURL returns a presigned GET URL for a stored replay. Zero ttl uses
// the configured default.
func (h *Handler) ReplayURL(name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = h.replayTTL
	}
	return h.objects.PresignGet(h.buckets.Replays, name, ttl)
}

// UploadBracket persists the finished tournament document.
func (h *Handler) UploadBracket(ctx context.Context, tournamentID int64, bracket domain.Bracket) error {
	body, err := json.Marshal(bracket)
	if err != nil {
		return fmt.Errorf("encode bracket for tournament %d: %w", tournamentID, err)
	}
	key := fmt.Sprintf("tournament_bracket-%d.json", tournamentID)
	if err := h.objects.Upload(ctx, h.buckets.Tournaments, key, body); err != nil {
		return fmt.Errorf("upload bracket %s: %w", key, err)
	}
	h.log.Info("tournament bracket uploaded",
		zap.Int64("tournament_id", tournamentID), zap.String("key", key))
	return nil
}

// InsertPendingMatch writes the pending row at job-submission time.
func (h *Handler) InsertPendingMatch(ctx context.Context, rec domain.MatchRecord) error {
	rec.Status = domain.StatusPending
	return h.matches.InsertPending(ctx, rec)
}

// UpdateFinishedMatch moves a row to finished. Failures are logged, not
// fatal; a batch's correctness never depends on a single row.
func (h *Handler) UpdateFinishedMatch(ctx context.Context, rec domain.MatchRecord) {
	rec.Status = domain.StatusFinished
	if err := h.matches.MarkFinished(ctx, rec); err != nil {
		h.log.Error("failed to update finished match",
			zap.Uint64("match_id", rec.MatchID), zap.Error(err))
	}
}

// UpdateFailedMatch moves a row to failed, best-effort.
func (h *Handler) UpdateFailedMatch(ctx context.Context, matchID uint64) {
	if err := h.matches.MarkFailed(ctx, matchID); err != nil {
		h.log.Error("failed to update failed match",
			zap.Uint64("match_id", matchID), zap.Error(err))
	}
}

// AdjustEloTable applies the new ratings produced by a completed ranked
// batch. Per-row failures are logged and skipped; successful writes are
// mirrored into the leaderboard cache.
func (h *Handler) AdjustEloTable(ctx context.Context, newRatings map[string]int) {
	for teamName, rating := range newRatings {
		if err := h.players.SetRating(ctx, teamName, rating); err != nil {
			h.log.Error("issue with updating rating",
				zap.String("team", teamName), zap.Error(err))
			continue
		}
		h.leaderboard.UpdateRating(ctx, teamName, rating)
	}
}

// PlayerRating looks up one team's current rating.
func (h *Handler) PlayerRating(ctx context.Context, teamName string) (int, error) {
	return h.players.Rating(ctx, teamName)
}

// NextMatchID returns the seed for the match-id counter.
func (h *Handler) NextMatchID(ctx context.Context) (uint64, error) {
	return h.matches.NextMatchID(ctx)
}

// GetMatch returns one persisted match row.
func (h *Handler) GetMatch(ctx context.Context, matchID uint64) (domain.MatchRecord, error) {
	return h.matches.Get(ctx, matchID)
}

// TopTeams returns the n highest-rated team names from the leaderboard
// mirror, best first.
func (h *Handler) TopTeams(ctx context.Context, n int) ([]string, error) {
	return h.leaderboard.Top(ctx, n)
}

// FetchBots downloads each submission into dir as team{i}.py, first
// submission first, and returns the local paths in order.
func (h *Handler) FetchBots(ctx context.Context, submissions []domain.UserSubmission, dir string) ([]string, error) {
	paths := make([]string, 0, len(submissions))
	for i, sub := range submissions {
		localPath := filepath.Join(dir, fmt.Sprintf("team%d.py", i+1))
		if err := h.objects.Download(ctx, sub.BucketName, sub.ObjectKey, localPath); err != nil {
			return nil, fmt.Errorf("fetch bot for %s: %w", sub.Username, err)
		}
		paths = append(paths, localPath)
	}
	return paths, nil
}
