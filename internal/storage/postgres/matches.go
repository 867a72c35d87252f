package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
)

// MatchRepo reads and writes the match table.
type MatchRepo struct {
	db *sqlx.DB
}

func NewMatchRepo(db *sqlx.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

// InsertPending writes a fresh pending row with empty outcome fields.
func (r *MatchRepo) InsertPending(ctx context.Context, rec domain.MatchRecord) error {
	const q = `
		INSERT INTO match
			(match_id, team_1, team_2, match_type, match_status,
			 outcome, replay_filename, replay_url, elo_change, map_name, last_updated)
		VALUES ($1, $2, $3, $4, $5, '', '', '', 0, $6, now())`
	_, err := r.db.ExecContext(ctx, q,
		int64(rec.MatchID), rec.Team1, rec.Team2, string(rec.Kind), domain.StatusPending, rec.MapName)
	if err != nil {
		return fmt.Errorf("insert pending match %d: %w", rec.MatchID, err)
	}
	return nil
}

// MarkFinished moves a row to finished with its outcome fields. The update is
// idempotent: re-applying the same record leaves the row unchanged.
func (r *MatchRepo) MarkFinished(ctx context.Context, rec domain.MatchRecord) error {
	const q = `
		UPDATE match
		SET match_status = $2, outcome = $3, replay_filename = $4,
		    replay_url = $5, elo_change = $6, last_updated = now()
		WHERE match_id = $1`
	_, err := r.db.ExecContext(ctx, q,
		int64(rec.MatchID), domain.StatusFinished, rec.Outcome,
		rec.ReplayFilename, rec.ReplayURL, rec.EloChange)
	if err != nil {
		return fmt.Errorf("mark match %d finished: %w", rec.MatchID, err)
	}
	return nil
}

// MarkFailed moves a row to failed, leaving all other fields untouched.
func (r *MatchRepo) MarkFailed(ctx context.Context, matchID uint64) error {
	const q = `UPDATE match SET match_status = $2, last_updated = now() WHERE match_id = $1`
	_, err := r.db.ExecContext(ctx, q, int64(matchID), domain.StatusFailed)
	if err != nil {
		return fmt.Errorf("mark match %d failed: %w", matchID, err)
	}
	return nil
}

// NextMatchID scans for the highest allocated id and returns its successor,
// or 1 on an empty table.
func (r *MatchRepo) NextMatchID(ctx context.Context) (uint64, error) {
	var max int64
	if err := r.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(match_id), 0) FROM match`); err != nil {
		return 0, fmt.Errorf("scan max match id: %w", err)
	}
	return uint64(max) + 1, nil
}

// Get fetches one row. Used by operational tooling and tests.
func (r *MatchRepo) Get(ctx context.Context, matchID uint64) (domain.MatchRecord, error) {
	var row struct {
		MatchID        int64     `db:"match_id"`
		Team1          string    `db:"team_1"`
		Team2          string    `db:"team_2"`
		Kind           string    `db:"match_type"`
		Status         string    `db:"match_status"`
		Outcome        string    `db:"outcome"`
		ReplayFilename string    `db:"replay_filename"`
		ReplayURL      string    `db:"replay_url"`
		EloChange      int       `db:"elo_change"`
		MapName        string    `db:"map_name"`
		LastUpdated    time.Time `db:"last_updated"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM match WHERE match_id = $1`, int64(matchID)); err != nil {
		return domain.MatchRecord{}, fmt.Errorf("get match %d: %w", matchID, err)
	}
	return domain.MatchRecord{
		MatchID:        uint64(row.MatchID),
		Team1:          row.Team1,
		Team2:          row.Team2,
		Kind:           domain.MatchKind(row.Kind),
		Status:         row.Status,
		Outcome:        row.Outcome,
		ReplayFilename: row.ReplayFilename,
		ReplayURL:      row.ReplayURL,
		EloChange:      row.EloChange,
		MapName:        row.MapName,
		LastUpdated:    row.LastUpdated,
	}, nil
}
