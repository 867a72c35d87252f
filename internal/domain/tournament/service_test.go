package tournament

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acm-cmu/awap-matchmaking/internal/domain"
	"github.com/acm-cmu/awap-matchmaking/internal/domain/engine"
	"github.com/acm-cmu/awap-matchmaking/internal/util"
	"github.com/acm-cmu/awap-matchmaking/pkg/apperr"
	"github.com/acm-cmu/awap-matchmaking/pkg/logger"
)

type sentJob struct {
	matchID uint64
	team1   string
	team2   string
	mapName string
}

type fakeDispatcher struct {
	ratings map[string]int
	jobs    chan sentJob
}

func (d *fakeDispatcher) PlayersInfo(_ context.Context, subs []domain.UserSubmission) ([]domain.MatchPlayer, error) {
	players := make([]domain.MatchPlayer, 0, len(subs))
	for _, sub := range subs {
		r, ok := d.ratings[sub.Username]
		if !ok {
			continue
		}
		players = append(players, domain.MatchPlayer{User: sub, Rating: r})
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Rating > players[j].Rating })
	return players, nil
}

func (d *fakeDispatcher) SendJob(_ context.Context, _ engine.Snapshot, matchID uint64,
	_ domain.MatchKind, mapName string, subs []domain.UserSubmission, _ string) (json.RawMessage, error) {
	d.jobs <- sentJob{matchID: matchID, team1: subs[0].Username, team2: subs[1].Username, mapName: mapName}
	return json.RawMessage(`{"statusId": 0}`), nil
}

type fakeBracketStore struct {
	mu       sync.Mutex
	finished []domain.MatchRecord
	failed   []uint64
	bracket  domain.Bracket
	done     chan struct{}
}

func (s *fakeBracketStore) UpdateFinishedMatch(_ context.Context, rec domain.MatchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, rec)
}

func (s *fakeBracketStore) UpdateFailedMatch(_ context.Context, matchID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, matchID)
}

func (s *fakeBracketStore) ReplayURL(name string, _ time.Duration) (string, error) {
	return "https://replays.test/" + name, nil
}

func (s *fakeBracketStore) UploadBracket(_ context.Context, _ int64, bracket domain.Bracket) error {
	s.mu.Lock()
	s.bracket = bracket
	s.mu.Unlock()
	close(s.done)
	return nil
}

type fixedEngines struct{ snap engine.Snapshot }

func (e fixedEngines) Snapshot() (engine.Snapshot, error) { return e.snap, nil }

func tourneyEngine(mapOrder [][]string) engine.Snapshot {
	return engine.Snapshot{Engine: domain.Engine{
		GameEngineName: "awap-2023",
		NumPlayers:     2,
		MapChoice:      domain.MapSelection{TourneyMapOrder: mapOrder},
	}}
}

func tourneyRequest(spots int, teams ...string) domain.Tournament {
	req := domain.Tournament{
		Bracket:            "finals",
		GameEngineName:     "awap-2023",
		NumTournamentSpots: spots,
	}
	for _, name := range teams {
		req.UserSubmissions = append(req.UserSubmissions, domain.UserSubmission{
			Username: name, BucketName: "bots", ObjectKey: name + ".py",
		})
	}
	return req
}

// play answers every dispatched game until the bracket uploads. pick decides
// the winning side for a game between team1 and team2.
func play(t *testing.T, svc *Service, id int64, d *fakeDispatcher, store *fakeBracketStore, pick func(team1, team2 string) int) {
	t.Helper()
	for {
		select {
		case job := <-d.jobs:
			require.True(t, svc.Fire(id, job.matchID, pick(job.team1, job.team2), "game.json"))
		case <-store.done:
			return
		case <-time.After(5 * time.Second):
			t.Fatal("tournament stalled")
		}
	}
}

func TestRunRejectsWrongEngine(t *testing.T) {
	d := &fakeDispatcher{ratings: map[string]int{"a": 1500}}
	svc := NewService(d, &fakeBracketStore{}, fixedEngines{tourneyEngine([][]string{{"maze"}})},
		util.NewCounter(1), logger.NewNop())

	req := tourneyRequest(2, "a")
	req.GameEngineName = "awap-2022"
	_, _, err := svc.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestFourTeamBracket(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500, "c": 1400, "d": 1300},
		jobs:    make(chan sentJob, 16),
	}
	store := &fakeBracketStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{tourneyEngine([][]string{{"maze"}, {"island"}})},
		util.NewCounter(1), logger.NewNop())

	id, spots, err := svc.Run(context.Background(), tourneyRequest(4, "a", "b", "c", "d"))
	require.NoError(t, err)
	require.Equal(t, 4, spots)

	// The favorite wins every game except the final.
	play(t, svc, id, d, store, func(team1, team2 string) int {
		if team1 == "a" && team2 == "b" {
			return 2
		}
		return 1
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.bracket, 2)

	first := store.bracket[0]
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].Player1)
	assert.Equal(t, "d", first[0].Player2)
	assert.Equal(t, "a", first[0].OverallWinner)
	assert.Equal(t, []int{1}, first[0].MapWinners)
	assert.Equal(t, []string{"https://replays.test/game.json"}, first[0].ReplayURLs)
	assert.Equal(t, "b", first[1].Player1)
	assert.Equal(t, "c", first[1].Player2)
	assert.Equal(t, "b", first[1].OverallWinner)

	final := store.bracket[1]
	require.Len(t, final, 1)
	assert.Equal(t, "a", final[0].Player1)
	assert.Equal(t, "b", final[0].Player2)
	assert.Equal(t, "b", final[0].OverallWinner)

	require.Len(t, store.finished, 3)
	for _, rec := range store.finished {
		assert.Equal(t, domain.KindTournament, rec.Kind)
	}

	assert.Eventually(t, func() bool {
		_, ok := svc.batches.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond, "tournament must be cleared after the bracket uploads")
}

func TestThreeTeamBracketHasABye(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500, "c": 1400},
		jobs:    make(chan sentJob, 16),
	}
	store := &fakeBracketStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{tourneyEngine([][]string{{"maze"}})},
		util.NewCounter(1), logger.NewNop())

	id, _, err := svc.Run(context.Background(), tourneyRequest(3, "a", "b", "c"))
	require.NoError(t, err)

	play(t, svc, id, d, store, func(string, string) int { return 1 })

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.bracket, 2)

	bye := store.bracket[0][0]
	assert.Equal(t, "a", bye.Player1)
	assert.Equal(t, domain.ByePlayer, bye.Player2)
	assert.Equal(t, "a", bye.OverallWinner)
	assert.Empty(t, bye.ReplayURLs)
	assert.Empty(t, bye.MapWinners)

	assert.Equal(t, "a", store.bracket[1][0].OverallWinner)
}

func TestSingleSpotTournament(t *testing.T) {
	d := &fakeDispatcher{ratings: map[string]int{"a": 1600, "b": 1500}, jobs: make(chan sentJob, 1)}
	store := &fakeBracketStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{tourneyEngine([][]string{{"maze"}})},
		util.NewCounter(1), logger.NewNop())

	id, spots, err := svc.Run(context.Background(), tourneyRequest(1, "a", "b"))
	require.NoError(t, err)
	require.Equal(t, 1, spots)

	play(t, svc, id, d, store, func(string, string) int { return 1 })

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.bracket, 1)
	require.Len(t, store.bracket[0], 1)
	assert.Equal(t, "a", store.bracket[0][0].Player1)
	assert.Equal(t, domain.ByePlayer, store.bracket[0][0].Player2)
	assert.Equal(t, "a", store.bracket[0][0].OverallWinner)
}

func TestBestOfThreeEndsEarly(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500},
		jobs:    make(chan sentJob, 16),
	}
	store := &fakeBracketStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{tourneyEngine([][]string{{"m1", "m2", "m3"}})},
		util.NewCounter(1), logger.NewNop())

	id, _, err := svc.Run(context.Background(), tourneyRequest(2, "a", "b"))
	require.NoError(t, err)

	play(t, svc, id, d, store, func(string, string) int { return 1 })

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.bracket, 1)
	res := store.bracket[0][0]
	// Two straight wins decide the series; the third map is never played.
	assert.Equal(t, []int{1, 1}, res.MapWinners)
	assert.Len(t, store.finished, 2)
	assert.Equal(t, "a", res.OverallWinner)
}

func TestFailedGameRecordsSlotAndSeriesContinues(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500},
		jobs:    make(chan sentJob, 16),
	}
	store := &fakeBracketStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{tourneyEngine([][]string{{"m1", "m2", "m3"}})},
		util.NewCounter(1), logger.NewNop())

	id, _, err := svc.Run(context.Background(), tourneyRequest(2, "a", "b"))
	require.NoError(t, err)

	// First game fails, the next two go to player2.
	calls := 0
	play(t, svc, id, d, store, func(string, string) int {
		calls++
		if calls == 1 {
			return -1
		}
		return 2
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	res := store.bracket[0][0]
	assert.Equal(t, []int{-1, 2, 2}, res.MapWinners)
	assert.Equal(t, FailedSlot, res.ReplayURLs[0])
	assert.Equal(t, "b", res.OverallWinner)
}
