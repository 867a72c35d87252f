package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PlayerRepo reads and writes the player rating table.
type PlayerRepo struct {
	db *sqlx.DB
}

func NewPlayerRepo(db *sqlx.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// Rating fetches a team's current rating. sql.ErrNoRows surfaces for unknown
// teams; callers drop those players.
func (r *PlayerRepo) Rating(ctx context.Context, teamName string) (int, error) {
	var rating int
	if err := r.db.GetContext(ctx, &rating,
		`SELECT current_rating FROM player WHERE team_name = $1`, teamName); err != nil {
		return 0, fmt.Errorf("rating for %q: %w", teamName, err)
	}
	return rating, nil
}

// SetRating unconditionally writes a team's rating.
func (r *PlayerRepo) SetRating(ctx context.Context, teamName string, rating int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE player SET current_rating = $2 WHERE team_name = $1`, teamName, rating)
	if err != nil {
		return fmt.Errorf("set rating for %q: %w", teamName, err)
	}
	return nil
}
