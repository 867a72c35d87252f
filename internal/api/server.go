// Package api exposes the service over HTTP. Inbound requests schedule
// matches; the callback routes receive raw game output posted back by the
// job runner.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/metrics"
	"github.com/acm-cmu/awap-matchmaking/internal/util"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

// Engines manages the active game engine.
type Engines interface {
	Set(ctx context.Context, eng domain.Engine) error
	Reload(ctx context.Context) error
	Snapshot() (engine.Snapshot, error)
}

// MatchRunner schedules individual games.
type MatchRunner interface {
	SendJob(ctx context.Context, snap engine.Snapshot, matchID uint64, kind domain.MatchKind,
		mapName string, submissions []domain.UserSubmission, callbackPath string) (json.RawMessage, error)
}

// Scrimmages runs ranked batches and routes their callbacks.
type Scrimmages interface {
	Run(ctx context.Context, req domain.RankedScrimmages) (int64, int, error)
	Fire(batchID int64, matchID uint64, winner int, replayFilename string) bool
}

// Tournaments runs brackets and routes their callbacks.
type Tournaments interface {
	Run(ctx context.Context, req domain.Tournament) (int64, int, error)
	Fire(tournamentID int64, matchID uint64, winner int, replayFilename string) bool
}

// Storage is the persistence surface the handlers touch directly.
type Storage interface {
	ProcessReplay(ctx context.Context, raw []byte, destFilename string) (int, error)
	UpdateFinishedMatch(ctx context.Context, rec domain.MatchRecord)
	UpdateFailedMatch(ctx context.Context, matchID uint64)
	ReplayURL(name string, ttl time.Duration) (string, error)
	GetMatch(ctx context.Context, matchID uint64) (domain.MatchRecord, error)
	TopTeams(ctx context.Context, n int) ([]string, error)
}

// Server is the HTTP surface of the orchestration service.
type Server struct {
	engines     Engines
	runner      MatchRunner
	scrimmages  Scrimmages
	tournaments Tournaments
	store       Storage
	counter     *util.Counter
	log         *logger.Logger
	router      chi.Router
}

// NewServer wires the routes.
func NewServer(engines Engines, runner MatchRunner, scrimmages Scrimmages,
	tournaments Tournaments, store Storage, counter *util.Counter, log *logger.Logger) *Server {

	s := &Server{
		engines:     engines,
		runner:      runner,
		scrimmages:  scrimmages,
		tournaments: tournaments,
		store:       store,
		counter:     counter,
		log:         log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/game_engine", s.handleSetEngine)
	r.Post("/game_engine_reload", s.handleReloadEngine)

	r.Get("/match/{match_id}", s.handleGetMatch)
	r.Get("/leaderboard", s.handleLeaderboard)

	r.Post("/match", s.handleMatch)
	r.Post("/scrimmage", s.handleScrimmage)
	r.Post("/tournament", s.handleTournament)

	r.Post("/single_match_callback/{match_id}", s.handleSingleMatchCallback)
	r.Post("/scrimmage_callback/{scrimmage_id}/{match_id}", s.handleScrimmageCallback)
	r.Post("/tournament_callback/{tournament_id}/{match_id}", s.handleTournamentCallback)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
