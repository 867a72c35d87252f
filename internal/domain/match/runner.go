// Package match schedules individual games on the job runner. The runner
// executes them asynchronously and posts the raw replay back to the service's
// callback endpoints.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/tango"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// Jobs is the runner-side dependency: staging files and submitting jobs.
type Jobs interface {
	UploadFile(ctx context.Context, localPath, tangoName, vmName string) (tango.FileHandle, error)
	AddJob(ctx context.Context, jobName string, files []tango.FileHandle, outputFile, callbackURL string) (json.RawMessage, error)
}

// Storage is the persistence-side dependency of the runner.
type Storage interface {
	FetchBots(ctx context.Context, submissions []domain.UserSubmission, dir string) ([]string, error)
	InsertPendingMatch(ctx context.Context, rec domain.MatchRecord) error
	PlayerRating(ctx context.Context, teamName string) (int, error)
}

// gameConfig is the per-match configuration the game sees as config.json.
type gameConfig struct {
	Map     string `json:"map"`
	RedBot  string `json:"red_bot"`
	BlueBot string `json:"blue_bot"`
}

// ReplayFilename is the object-storage name a finished match's replay is
// stored under.
func ReplayFilename(kind domain.MatchKind, matchID uint64) string {
	prefix := string(kind)
	if kind == domain.KindRanked {
		prefix = "ranked_scrimmage"
	}
	return fmt.Sprintf("%s-%d.json", prefix, matchID)
}

// OutputFilename is the runner-side name of a match's raw output.
func OutputFilename(matchID uint64) string {
	return fmt.Sprintf("output-%d.json", matchID)
}

// Runner stages and submits one match at a time. Safe for concurrent use.
type Runner struct {
	jobs         Jobs
	store        Storage
	tempDir      string
	callbackBase string
	log          *logger.Logger
}

// NewRunner builds a match runner. callbackBase is the externally reachable
// base URL the job runner posts results to.
func NewRunner(jobs Jobs, store Storage, tempDir, callbackBase string, log *logger.Logger) *Runner {
	return &Runner{
		jobs:         jobs,
		store:        store,
		tempDir:      tempDir,
		callbackBase: callbackBase,
		log:          log.Named("match"),
	}
}

// SendJob stages both bots and the match configuration, records the pending
// row, and submits the job. callbackPath is the route the result should come
// back on, without the leading slash or the trailing match id. The runner's
// acknowledgement JSON is returned verbatim.
func (r *Runner) SendJob(ctx context.Context, snap engine.Snapshot, matchID uint64,
	kind domain.MatchKind, mapName string, submissions []domain.UserSubmission, callbackPath string) (json.RawMessage, error) {

	if len(submissions) != 2 {
		return nil, apperr.Validation("a match takes exactly 2 submissions, received %d", len(submissions))
	}

	if err := os.MkdirAll(r.tempDir, 0o755); err != nil {
		return nil, apperr.IO("could not create match staging dir").WithErr(err)
	}
	dir, err := os.MkdirTemp(r.tempDir, fmt.Sprintf("match-%d-", matchID))
	if err != nil {
		return nil, apperr.IO("could not create match staging dir").WithErr(err)
	}
	defer os.RemoveAll(dir)

	botPaths, err := r.store.FetchBots(ctx, submissions, dir)
	if err != nil {
		return nil, apperr.IO("could not fetch bots for match %d", matchID).WithErr(err)
	}

	files := []tango.FileHandle{snap.Makefile, snap.EngineFile}
	for i, path := range botPaths {
		vmName := fmt.Sprintf("team%d.py", i+1)
		handle, err := r.jobs.UploadFile(ctx, path, fmt.Sprintf("%d-%s", matchID, vmName), vmName)
		if err != nil {
			return nil, err
		}
		files = append(files, handle)
	}

	cfgPath := filepath.Join(dir, "config.json")
	cfgBody, err := json.Marshal(gameConfig{Map: mapName, RedBot: "team1", BlueBot: "team2"})
	if err != nil {
		return nil, apperr.IO("could not encode match config").WithErr(err)
	}
	if err := os.WriteFile(cfgPath, cfgBody, 0o644); err != nil {
		return nil, apperr.IO("could not write match config").WithErr(err)
	}
	cfgHandle, err := r.jobs.UploadFile(ctx, cfgPath, fmt.Sprintf("%d-config.json", matchID), "config.json")
	if err != nil {
		return nil, err
	}
	files = append(files, cfgHandle)

	if err := r.store.InsertPendingMatch(ctx, domain.MatchRecord{
		MatchID: matchID,
		Team1:   submissions[0].Username,
		Team2:   submissions[1].Username,
		Kind:    kind,
		MapName: mapName,
	}); err != nil {
		return nil, apperr.IO("could not record pending match %d", matchID).WithErr(err)
	}

	callbackURL := fmt.Sprintf("%s/%s/%d", r.callbackBase, callbackPath, matchID)
	ack, err := r.jobs.AddJob(ctx, strconv.FormatUint(matchID, 10), files,
		OutputFilename(matchID), callbackURL)
	if err != nil {
		return nil, err
	}

	r.log.Info("match submitted",
		zap.Uint64("match_id", matchID),
		zap.String("kind", string(kind)),
		zap.String("map", mapName),
		zap.String("team_1", submissions[0].Username),
		zap.String("team_2", submissions[1].Username),
	)
	return ack, nil
}

// PlayersInfo resolves each submission's current rating. Teams with no rating
// row are dropped with a warning; the survivors come back sorted highest
// rating first.
func (r *Runner) PlayersInfo(ctx context.Context, submissions []domain.UserSubmission) ([]domain.MatchPlayer, error) {
	players := make([]domain.MatchPlayer, 0, len(submissions))
	for _, sub := range submissions {
		rating, err := r.store.PlayerRating(ctx, sub.Username)
		if err != nil {
			r.log.Warn("dropping submission with no rating row",
				zap.String("team", sub.Username), zap.Error(err))
			continue
		}
		players = append(players, domain.MatchPlayer{User: sub, Rating: rating})
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Rating > players[j].Rating
	})
	return players, nil
}
