// Package scrimmage runs ranked batches. Every team in a batch is paired
// against its rating neighbors, all games run concurrently, and ratings are
// adjusted once when the whole batch has reported back.
package scrimmage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/registry"
	"github.com/acm-cmu/awap-matchmaking/internal/util"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// MinTeams is the smallest roster a ranked batch accepts.
const MinTeams = 4

// Dispatcher schedules individual games. The runner acknowledgement is of no
// use to a batch, so it is dropped at the call sites.
type Dispatcher interface {
	SendJob(ctx context.Context, snap engine.Snapshot, matchID uint64, kind domain.MatchKind,
		mapName string, submissions []domain.UserSubmission, callbackPath string) (json.RawMessage, error)
	PlayersInfo(ctx context.Context, submissions []domain.UserSubmission) ([]domain.MatchPlayer, error)
}

// Storage is the persistence-side dependency of the batch orchestrator.
type Storage interface {
	UpdateFinishedMatch(ctx context.Context, rec domain.MatchRecord)
	UpdateFailedMatch(ctx context.Context, matchID uint64)
	AdjustEloTable(ctx context.Context, newRatings map[string]int)
	ReplayURL(name string, ttl time.Duration) (string, error)
}

// Engines provides the active engine snapshot.
type Engines interface {
	Snapshot() (engine.Snapshot, error)
}

// Service orchestrates ranked scrimmage batches.
type Service struct {
	dispatcher Dispatcher
	store      Storage
	engines    Engines
	counter    *util.Counter
	batches    *registry.RankedTable
	log        *logger.Logger
}

// NewService builds a scrimmage orchestrator.
func NewService(dispatcher Dispatcher, store Storage, engines Engines,
	counter *util.Counter, log *logger.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		store:      store,
		engines:    engines,
		counter:    counter,
		batches:    registry.NewRankedTable(),
		log:        log.Named("scrimmage"),
	}
}

// Run validates the request, schedules the batch asynchronously, and returns
// the batch id plus the number of games scheduled.
func (s *Service) Run(ctx context.Context, req domain.RankedScrimmages) (int64, int, error) {
	snap, err := s.engines.Snapshot()
	if err != nil {
		return 0, 0, err
	}
	if req.GameEngineName != snap.Engine.GameEngineName {
		return 0, 0, apperr.Validation("incompatible game engine %q, active engine is %q",
			req.GameEngineName, snap.Engine.GameEngineName)
	}

	players, err := s.dispatcher.PlayersInfo(ctx, req.UserSubmissions)
	if err != nil {
		return 0, 0, err
	}
	if len(players) < MinTeams {
		return 0, 0, apperr.Validation("ranked scrimmages require at least %d rated teams, have %d",
			MinTeams, len(players))
	}

	pairings := Pairings(players, WindowSize)
	batchID := time.Now().UnixNano()
	batch := s.batches.Create(batchID)
	batch.Init(len(pairings))

	go s.runBatch(context.Background(), snap, batchID, batch, players, pairings)

	s.log.Info("ranked batch scheduled",
		zap.Int64("batch_id", batchID),
		zap.Int("teams", len(players)),
		zap.Int("matches", len(pairings)),
	)
	return batchID, len(pairings), nil
}

// Fire routes a finished game's result into its batch. It reports whether the
// batch is known.
func (s *Service) Fire(batchID int64, matchID uint64, winner int, replayFilename string) bool {
	batch, ok := s.batches.Get(batchID)
	if !ok {
		return false
	}
	batch.Fire(matchID, winner, replayFilename)
	return true
}

func (s *Service) runBatch(ctx context.Context, snap engine.Snapshot, batchID int64,
	batch *registry.RankedBatch, players []domain.MatchPlayer, pairings []Pairing) {

	// Deltas accumulate against the ratings sampled at batch start, so game
	// order within the batch cannot change the outcome.
	var mu sync.Mutex
	deltas := make(map[string]int, len(players))

	callbackPath := fmt.Sprintf("scrimmage_callback/%d", batchID)
	for _, p := range pairings {
		p := p
		matchID := s.counter.Next()

		mapName, err := snap.ChooseMap(domain.KindRanked)
		if err != nil {
			s.log.Error("no ranked map available", zap.Int64("batch_id", batchID), zap.Error(err))
			batch.Fire(matchID, -1, "")
			continue
		}

		batch.Register(matchID, func(winner int, replayFilename string) {
			w, l := p.Lower, p.Higher
			outcome := "team1"
			if winner == 2 {
				w, l = p.Higher, p.Lower
				outcome = "team2"
			}
			delta := RatingDelta(w.Rating, l.Rating)

			mu.Lock()
			deltas[w.User.Username] += delta
			deltas[l.User.Username] -= delta
			mu.Unlock()

			url, err := s.store.ReplayURL(replayFilename, 0)
			if err != nil {
				s.log.Error("could not presign replay",
					zap.String("filename", replayFilename), zap.Error(err))
			}
			s.store.UpdateFinishedMatch(ctx, domain.MatchRecord{
				MatchID:        matchID,
				Team1:          p.Lower.User.Username,
				Team2:          p.Higher.User.Username,
				Kind:           domain.KindRanked,
				Outcome:        outcome,
				EloChange:      delta,
				ReplayFilename: replayFilename,
				ReplayURL:      url,
				MapName:        mapName,
			})
		})

		subs := []domain.UserSubmission{p.Lower.User, p.Higher.User}
		if _, err := s.dispatcher.SendJob(ctx, snap, matchID, domain.KindRanked, mapName, subs, callbackPath); err != nil {
			s.log.Error("could not dispatch ranked match",
				zap.Uint64("match_id", matchID), zap.Error(err))
			s.store.UpdateFailedMatch(ctx, matchID)
			batch.Fire(matchID, -1, "")
		}
	}

	batch.Wait()

	newRatings := make(map[string]int, len(players))
	mu.Lock()
	for _, p := range players {
		newRatings[p.User.Username] = p.Rating + deltas[p.User.Username]
	}
	mu.Unlock()

	s.store.AdjustEloTable(ctx, newRatings)
	s.batches.Remove(batchID)
	s.log.Info("ranked batch finished", zap.Int64("batch_id", batchID))
}
