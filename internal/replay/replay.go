// Package replay decodes the text output the runner posts back after a
// match. The output is free-form build/run logging with a sentinel line
// introducing the final replay JSON, or a forfeit sentinel when one bot
// failed to build or crashed.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
)

const (
	headerSentinel     = "====== BEGIN REPLAY HERE ======"
	redBrokenSentinel  = "===== RED BROKEN ====="
	blueBrokenSentinel = "===== BLUE BROKEN ====="
)

// Winner sides as stored in match outcomes.
const (
	WinnerRed  = 1 // team1
	WinnerBlue = 2 // team2
)

// Result is the decoded outcome of one runner job.
type Result struct {
	Winner  int
	Forfeit bool
	// Payload is the replay JSON line, present only for played-out matches.
	Payload []byte
}

type replayLine struct {
	Winner string `json:"winner"`
}

// Parse scans raw runner output for a sentinel and decodes the winner.
// A forfeit sentinel declares the opposite side winner with no payload.
// Absence of any sentinel, or a replay line naming no known side, is a parse
// error.
func Parse(raw []byte) (Result, error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		switch sc.Text() {
		case redBrokenSentinel:
			return Result{Winner: WinnerBlue, Forfeit: true}, nil
		case blueBrokenSentinel:
			return Result{Winner: WinnerRed, Forfeit: true}, nil
		case headerSentinel:
			if !sc.Scan() {
				return Result{}, apperr.Parse("replay header with no replay line")
			}
			line := append([]byte(nil), sc.Bytes()...)
			var rl replayLine
			if err := json.Unmarshal(line, &rl); err != nil {
				return Result{}, apperr.Parse("malformed replay JSON").WithErr(err)
			}
			switch rl.Winner {
			case "red":
				return Result{Winner: WinnerRed, Payload: line}, nil
			case "blue":
				return Result{Winner: WinnerBlue, Payload: line}, nil
			default:
				return Result{}, apperr.Parse("replay names unknown winner %q", rl.Winner)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, apperr.Parse("could not scan runner output").WithErr(err)
	}
	return Result{}, apperr.Parse("no replay sentinel in runner output")
}
