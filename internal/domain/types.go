// Package domain defines the core types shared across the match
// orchestration service.
package domain

import (
	"time"

	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
)

// UserSubmission identifies a team's bot binary in object storage.
type UserSubmission struct {
	Username   string `json:"username"`
	BucketName string `json:"s3_bucket_name"`
	ObjectKey  string `json:"s3_object_name"`
}

// MatchPlayer is a submission paired with the team's rating sampled at
// scheduling time.
type MatchPlayer struct {
	User   UserSubmission
	Rating int
}

// Match is a request to run one game between the given submissions.
type Match struct {
	GameEngineName  string           `json:"game_engine_name"`
	NumPlayers      int              `json:"num_players"`
	UserSubmissions []UserSubmission `json:"user_submissions"`
}

// MatchKind distinguishes how a match affects ratings and brackets.
type MatchKind string

const (
	KindUnranked   MatchKind = "unranked"
	KindRanked     MatchKind = "ranked"
	KindTournament MatchKind = "tournament"
)

// Match status values as stored in the match table.
const (
	StatusPending  = "pending"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// MatchRecord is the persisted per-match row. Status flows pending->finished
// or pending->failed exactly once; Outcome is non-empty iff finished.
type MatchRecord struct {
	MatchID        uint64    `db:"match_id" json:"match_id"`
	Team1          string    `db:"team_1" json:"team_1"`
	Team2          string    `db:"team_2" json:"team_2"`
	Kind           MatchKind `db:"match_type" json:"match_type"`
	Status         string    `db:"match_status" json:"match_status"`
	Outcome        string    `db:"outcome" json:"outcome"` // "", "team1", "team2"
	EloChange      int       `db:"elo_change" json:"elo_change"`
	ReplayFilename string    `db:"replay_filename" json:"replay_filename"`
	ReplayURL      string    `db:"replay_url" json:"replay_url"`
	MapName        string    `db:"map_name" json:"map_name"`
	LastUpdated    time.Time `db:"last_updated" json:"last_updated"`
}

// PlayerRow is the persisted per-team rating row.
type PlayerRow struct {
	TeamName      string `db:"team_name"`
	CurrentRating int    `db:"current_rating"`
}

// MapSelection lists the maps each match kind draws from. Every inner list in
// TourneyMapOrder is one round's map sequence and must have odd length so a
// best-of-N series cannot draw.
type MapSelection struct {
	UnrankedPossibleMaps []string   `json:"unranked_possible_maps"`
	RankedPossibleMaps   []string   `json:"ranked_possible_maps"`
	TourneyMapOrder      [][]string `json:"tourney_map_order"`
}

// Engine describes a game engine build: where to fetch its artifacts and how
// many players a match takes.
type Engine struct {
	GameEngineName      string       `json:"game_engine_name"`
	EngineFilename      string       `json:"engine_filename"`
	EngineDownloadURL   string       `json:"engine_download_url"`
	MakefileFilename    string       `json:"makefile_filename"`
	MakefileDownloadURL string       `json:"makefile_download_url"`
	NumPlayers          int          `json:"num_players"`
	MapChoice           MapSelection `json:"map_choice"`
}

// RankedScrimmages requests a batch of rating-adjusted matches across the
// given submissions.
type RankedScrimmages struct {
	UserSubmissions []UserSubmission `json:"user_submissions"`
	GameEngineName  string           `json:"game_engine_name"`
}

// Tournament requests a single-elimination bracket over the top
// NumTournamentSpots submissions by rating.
type Tournament struct {
	Bracket            string           `json:"bracket"`
	UserSubmissions    []UserSubmission `json:"user_submissions"`
	GameEngineName     string           `json:"game_engine_name"`
	NumTournamentSpots int              `json:"num_tournament_spots"`
}

// ByePlayer is the placeholder recorded for the absent side of a bye pairing.
const ByePlayer = "bye"

// PairingResult is one pairing's outcome inside a bracket round.
type PairingResult struct {
	Player1       string   `json:"player1"`
	Player2       string   `json:"player2"`
	OverallWinner string   `json:"overall_winner"`
	ReplayURLs    []string `json:"replay_urls"`
	MapWinners    []int    `json:"map_winners"`
}

// BracketRound is every pairing played in one tournament layer.
type BracketRound []PairingResult

// Bracket is the full tournament document, first round first.
type Bracket []BracketRound

// Validate checks the internal consistency of a match request against the
// active engine.
func (m Match) Validate(engine Engine) error {
	if m.GameEngineName != engine.GameEngineName {
		return apperr.Validation("incompatible game engine %q, active engine is %q",
			m.GameEngineName, engine.GameEngineName)
	}
	if len(m.UserSubmissions) != engine.NumPlayers {
		return apperr.Validation("expected %d players, received %d",
			engine.NumPlayers, len(m.UserSubmissions))
	}
	if m.NumPlayers != len(m.UserSubmissions) {
		return apperr.Validation("number of players should match number of submissions")
	}
	return nil
}

// Validate checks that every tournament layer has an odd map count.
func (s MapSelection) Validate() error {
	for _, layer := range s.TourneyMapOrder {
		if len(layer)%2 != 1 {
			return apperr.Validation("tournament layer %v does not have an odd number of maps", layer)
		}
	}
	return nil
}
