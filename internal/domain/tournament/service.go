// Package tournament runs single-elimination brackets. Each pairing plays a
// best-of-N series over the round's map sequence; pairings within a round run
// concurrently while the games of one series run in order.
package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/registry"
	"github.com/acm-cmu/awap-matchmaking/internal/util"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// maxConcurrentSeries caps how many series of one round run at once.
const maxConcurrentSeries = 16

// FailedSlot marks a game of a series that never produced a replay.
const FailedSlot = "failed"

// Dispatcher schedules individual games. The runner acknowledgement is of no
// use to a series, so it is dropped at the call sites.
type Dispatcher interface {
	SendJob(ctx context.Context, snap engine.Snapshot, matchID uint64, kind domain.MatchKind,
		mapName string, submissions []domain.UserSubmission, callbackPath string) (json.RawMessage, error)
	PlayersInfo(ctx context.Context, submissions []domain.UserSubmission) ([]domain.MatchPlayer, error)
}

// Storage is the persistence-side dependency of the bracket orchestrator.
type Storage interface {
	UpdateFinishedMatch(ctx context.Context, rec domain.MatchRecord)
	UpdateFailedMatch(ctx context.Context, matchID uint64)
	ReplayURL(name string, ttl time.Duration) (string, error)
	UploadBracket(ctx context.Context, tournamentID int64, bracket domain.Bracket) error
}

// Engines provides the active engine snapshot.
type Engines interface {
	Snapshot() (engine.Snapshot, error)
}

// Service orchestrates tournaments.
type Service struct {
	dispatcher Dispatcher
	store      Storage
	engines    Engines
	counter    *util.Counter
	batches    *registry.TourneyTable
	log        *logger.Logger
}

// NewService builds a tournament orchestrator.
func NewService(dispatcher Dispatcher, store Storage, engines Engines,
	counter *util.Counter, log *logger.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		store:      store,
		engines:    engines,
		counter:    counter,
		batches:    registry.NewTourneyTable(),
		log:        log.Named("tournament"),
	}
}

// Run validates the request, starts the bracket asynchronously, and returns
// the tournament id and the number of entrants that made the cut.
func (s *Service) Run(ctx context.Context, req domain.Tournament) (int64, int, error) {
	snap, err := s.engines.Snapshot()
	if err != nil {
		return 0, 0, err
	}
	if req.GameEngineName != snap.Engine.GameEngineName {
		return 0, 0, apperr.Validation("incompatible game engine %q, active engine is %q",
			req.GameEngineName, snap.Engine.GameEngineName)
	}
	if req.NumTournamentSpots < 1 {
		return 0, 0, apperr.Validation("tournament needs at least one spot")
	}
	if len(snap.Engine.MapChoice.TourneyMapOrder) == 0 {
		return 0, 0, apperr.Validation("engine %q has no tournament map order", snap.Engine.GameEngineName)
	}

	players, err := s.dispatcher.PlayersInfo(ctx, req.UserSubmissions)
	if err != nil {
		return 0, 0, err
	}
	if len(players) == 0 {
		return 0, 0, apperr.Validation("no rated teams among the submissions")
	}

	spots := req.NumTournamentSpots
	if spots > len(players) {
		spots = len(players)
	}
	entrants := players[:spots]

	tournamentID := time.Now().UnixNano()
	batch := s.batches.Create(tournamentID)
	go s.runBracket(context.Background(), snap, tournamentID, batch, entrants)

	s.log.Info("tournament scheduled",
		zap.Int64("tournament_id", tournamentID),
		zap.String("bracket", req.Bracket),
		zap.Int("entrants", spots),
	)
	return tournamentID, spots, nil
}

// Fire routes a finished game's result into its tournament. It reports
// whether the tournament is known.
func (s *Service) Fire(tournamentID int64, matchID uint64, winner int, replayFilename string) bool {
	batch, ok := s.batches.Get(tournamentID)
	if !ok {
		return false
	}
	batch.Fire(matchID, winner, replayFilename)
	return true
}

func (s *Service) runBracket(ctx context.Context, snap engine.Snapshot, tournamentID int64,
	batch *registry.TourneyBatch, entrants []domain.MatchPlayer) {

	seeds := Seed(entrants)
	var bracket domain.Bracket

	for layer := 0; len(seeds) > 1; layer++ {
		pairs := Interleave(seeds)
		results := make([]domain.PairingResult, len(pairs))
		winners := make([]*domain.MatchPlayer, len(pairs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentSeries)
		for i, pair := range pairs {
			i, pair := i, pair
			g.Go(func() error {
				results[i], winners[i] = s.runSeries(gctx, snap, tournamentID, batch, layer, pair[0], pair[1])
				return nil
			})
		}
		_ = g.Wait()

		bracket = append(bracket, results)
		seeds = winners
	}

	if err := s.store.UploadBracket(ctx, tournamentID, bracket); err != nil {
		s.log.Error("could not upload bracket",
			zap.Int64("tournament_id", tournamentID), zap.Error(err))
	}

	batch.Clear()
	s.batches.Remove(tournamentID)

	champion := "none"
	if len(seeds) == 1 && seeds[0] != nil {
		champion = seeds[0].User.Username
	}
	s.log.Info("tournament finished",
		zap.Int64("tournament_id", tournamentID),
		zap.String("champion", champion),
	)
}

type gameResult struct {
	winner int
	replay string
}

// runSeries plays one pairing's best-of-N series. The maps of the series run
// strictly in order; the overall winner is whoever takes more games, with
// player1 winning ties.
func (s *Service) runSeries(ctx context.Context, snap engine.Snapshot, tournamentID int64,
	batch *registry.TourneyBatch, layer int, p1, p2 *domain.MatchPlayer) (domain.PairingResult, *domain.MatchPlayer) {

	res := domain.PairingResult{
		Player1:    playerName(p1),
		Player2:    playerName(p2),
		ReplayURLs: []string{},
		MapWinners: []int{},
	}

	// A bye advances the present side without playing.
	if p1 == nil || p2 == nil {
		winner := p1
		if winner == nil {
			winner = p2
		}
		res.OverallWinner = playerName(winner)
		return res, winner
	}

	order := snap.Engine.MapChoice.TourneyMapOrder
	maps := order[layer%len(order)]
	needed := len(maps)/2 + 1
	callbackPath := fmt.Sprintf("tournament_callback/%d", tournamentID)

	p1wins, p2wins := 0, 0
	for _, mapName := range maps {
		if p1wins >= needed || p2wins >= needed {
			break
		}

		matchID := s.counter.Next()
		resCh := make(chan gameResult, 1)
		batch.Register(matchID, func(winner int, replayFilename string) {
			resCh <- gameResult{winner: winner, replay: replayFilename}
		})

		subs := []domain.UserSubmission{p1.User, p2.User}
		if _, err := s.dispatcher.SendJob(ctx, snap, matchID, domain.KindTournament, mapName, subs, callbackPath); err != nil {
			s.log.Error("could not dispatch tournament match",
				zap.Uint64("match_id", matchID), zap.Error(err))
			s.store.UpdateFailedMatch(ctx, matchID)
			res.ReplayURLs = append(res.ReplayURLs, FailedSlot)
			res.MapWinners = append(res.MapWinners, -1)
			continue
		}

		var game gameResult
		select {
		case game = <-resCh:
		case <-ctx.Done():
			res.OverallWinner = seriesWinner(p1, p2, p1wins, p2wins).User.Username
			return res, seriesWinner(p1, p2, p1wins, p2wins)
		}

		if game.winner != 1 && game.winner != 2 {
			res.ReplayURLs = append(res.ReplayURLs, FailedSlot)
			res.MapWinners = append(res.MapWinners, -1)
			continue
		}

		if game.winner == 1 {
			p1wins++
		} else {
			p2wins++
		}
		res.MapWinners = append(res.MapWinners, game.winner)

		url, err := s.store.ReplayURL(game.replay, 0)
		if err != nil {
			s.log.Error("could not presign replay",
				zap.String("filename", game.replay), zap.Error(err))
		}
		res.ReplayURLs = append(res.ReplayURLs, url)

		s.store.UpdateFinishedMatch(ctx, domain.MatchRecord{
			MatchID:        matchID,
			Team1:          p1.User.Username,
			Team2:          p2.User.Username,
			Kind:           domain.KindTournament,
			Outcome:        fmt.Sprintf("team%d", game.winner),
			ReplayFilename: game.replay,
			ReplayURL:      url,
			MapName:        mapName,
		})
	}

	winner := seriesWinner(p1, p2, p1wins, p2wins)
	res.OverallWinner = winner.User.Username
	return res, winner
}

func seriesWinner(p1, p2 *domain.MatchPlayer, p1wins, p2wins int) *domain.MatchPlayer {
	if p2wins > p1wins {
		return p2
	}
	return p1
}

func playerName(p *domain.MatchPlayer) string {
	if p == nil {
		return domain.ByePlayer
	}
	return p.User.Username
}
