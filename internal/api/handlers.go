package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/match"
	"github.com/acm-cmu/awap-matchmaking/internal/metrics"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
)

// maxCallbackBytes bounds how much game output a callback may post.
const maxCallbackBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	writeJSON(w, status, map[string]string{"error": apperr.Message(err)})
}

func decode[T any](r *http.Request, into *T) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return apperr.Validation("invalid request body").WithErr(err)
	}
	return nil
}

// readCallbackBody accepts the game output either as a raw body or as the
// first file of a multipart form, which is how the runner posts it.
func readCallbackBody(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxCallbackBytes)

	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxCallbackBytes); err != nil {
			return nil, apperr.Validation("invalid multipart callback body").WithErr(err)
		}
		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				f, err := header.Open()
				if err != nil {
					return nil, apperr.IO("could not open callback file").WithErr(err)
				}
				defer f.Close()
				return io.ReadAll(f)
			}
		}
		return nil, apperr.Validation("multipart callback carried no file")
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.IO("could not read callback body").WithErr(err)
	}
	return raw, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Everything is OK"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		resp["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["mem_percent"] = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid match id"))
		return
	}
	rec, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "match not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	n := 25
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, apperr.Validation("invalid leaderboard size"))
			return
		}
		n = parsed
	}
	teams, err := s.store.TopTeams(r.Context(), n)
	if err != nil {
		s.writeError(w, apperr.Transport("leaderboard unavailable").WithErr(err))
		return
	}
	if teams == nil {
		teams = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleSetEngine(w http.ResponseWriter, r *http.Request) {
	var eng domain.Engine
	if err := decode(r, &eng); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engines.Set(r.Context(), eng); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "game engine set",
		"game_engine_name": eng.GameEngineName,
	})
}

func (s *Server) handleReloadEngine(w http.ResponseWriter, r *http.Request) {
	if err := s.engines.Reload(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "game engine reloaded"})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.Match
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.engines.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(snap.Engine); err != nil {
		s.writeError(w, err)
		return
	}
	mapName, err := snap.ChooseMap(domain.KindUnranked)
	if err != nil {
		s.writeError(w, err)
		return
	}

	matchID := s.counter.Next()
	ack, err := s.runner.SendJob(r.Context(), snap, matchID, domain.KindUnranked,
		mapName, req.UserSubmissions, "single_match_callback")
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics.MatchesStarted.WithLabelValues(string(domain.KindUnranked)).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"match_id": matchID,
		"map":      mapName,
		"ack":      ack,
	})
}

func (s *Server) handleScrimmage(w http.ResponseWriter, r *http.Request) {
	var req domain.RankedScrimmages
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	batchID, numMatches, err := s.scrimmages.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics.MatchesStarted.WithLabelValues(string(domain.KindRanked)).Add(float64(numMatches))
	writeJSON(w, http.StatusOK, map[string]any{
		"scrimmage_id": batchID,
		"num_matches":  numMatches,
	})
}

func (s *Server) handleTournament(w http.ResponseWriter, r *http.Request) {
	var req domain.Tournament
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tournamentID, entrants, err := s.tournaments.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tournament_id": tournamentID,
		"num_entrants":  entrants,
	})
}

func (s *Server) handleSingleMatchCallback(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid match id"))
		return
	}
	raw, err := readCallbackBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := match.ReplayFilename(domain.KindUnranked, matchID)
	winner, err := s.store.ProcessReplay(r.Context(), raw, name)
	if err != nil {
		s.store.UpdateFailedMatch(r.Context(), matchID)
		metrics.CallbacksReceived.WithLabelValues(string(domain.KindUnranked), "failed").Inc()
		s.log.Error("unranked match produced no replay",
			zap.Uint64("match_id", matchID), zap.Error(err))
		s.writeError(w, err)
		return
	}

	url, err := s.store.ReplayURL(name, 0)
	if err != nil {
		s.log.Error("could not presign replay", zap.String("filename", name), zap.Error(err))
	}
	s.store.UpdateFinishedMatch(r.Context(), domain.MatchRecord{
		MatchID:        matchID,
		Kind:           domain.KindUnranked,
		Outcome:        "team" + strconv.Itoa(winner),
		ReplayFilename: name,
		ReplayURL:      url,
	})

	metrics.CallbacksReceived.WithLabelValues(string(domain.KindUnranked), "finished").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"match_id": matchID, "winner": winner})
}

func (s *Server) handleScrimmageCallback(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(chi.URLParam(r, "scrimmage_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid scrimmage id"))
		return
	}
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid match id"))
		return
	}
	raw, err := readCallbackBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := match.ReplayFilename(domain.KindRanked, matchID)
	winner, perr := s.store.ProcessReplay(r.Context(), raw, name)
	if perr != nil {
		s.store.UpdateFailedMatch(r.Context(), matchID)
		winner = -1
	}

	if !s.scrimmages.Fire(batchID, matchID, winner, name) {
		s.writeError(w, apperr.Validation("unknown scrimmage %d", batchID))
		return
	}
	if perr != nil {
		metrics.CallbacksReceived.WithLabelValues(string(domain.KindRanked), "failed").Inc()
		s.writeError(w, perr)
		return
	}
	metrics.CallbacksReceived.WithLabelValues(string(domain.KindRanked), "finished").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"match_id": matchID, "winner": winner})
}

func (s *Server) handleTournamentCallback(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := strconv.ParseInt(chi.URLParam(r, "tournament_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid tournament id"))
		return
	}
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Validation("invalid match id"))
		return
	}
	raw, err := readCallbackBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := match.ReplayFilename(domain.KindTournament, matchID)
	winner, perr := s.store.ProcessReplay(r.Context(), raw, name)
	if perr != nil {
		s.store.UpdateFailedMatch(r.Context(), matchID)
		winner = -1
	}

	if !s.tournaments.Fire(tournamentID, matchID, winner, name) {
		s.writeError(w, apperr.Validation("unknown tournament %d", tournamentID))
		return
	}
	if perr != nil {
		metrics.CallbacksReceived.WithLabelValues(string(domain.KindTournament), "failed").Inc()
		s.writeError(w, perr)
		return
	}
	metrics.CallbacksReceived.WithLabelValues(string(domain.KindTournament), "finished").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"match_id": matchID, "winner": winner})
}
