package scrimmage

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
	path    string
}

type fakeDispatcher struct {
	ratings map[string]int
	jobs    chan sentJob
	failFor map[string]bool // team1 names whose dispatch fails
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
	_ domain.MatchKind, _ string, subs []domain.UserSubmission, callbackPath string) (json.RawMessage, error) {
	if d.failFor[subs[0].Username] {
		return nil, apperr.Transport("runner unreachable")
	}
	d.jobs <- sentJob{matchID: matchID, team1: subs[0].Username, team2: subs[1].Username, path: callbackPath}
	return json.RawMessage(`{"statusId": 0}`), nil
}

type fakeBatchStore struct {
	mu       sync.Mutex
	finished []domain.MatchRecord
	failed   []uint64
	ratings  map[string]int
	done     chan struct{}
}

func (s *fakeBatchStore) UpdateFinishedMatch(_ context.Context, rec domain.MatchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, rec)
}

func (s *fakeBatchStore) UpdateFailedMatch(_ context.Context, matchID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, matchID)
}

func (s *fakeBatchStore) AdjustEloTable(_ context.Context, newRatings map[string]int) {
	s.mu.Lock()
	s.ratings = newRatings
	s.mu.Unlock()
	close(s.done)
}

func (s *fakeBatchStore) ReplayURL(name string, _ time.Duration) (string, error) {
	return "https://replays.test/" + name, nil
}

type fixedEngines struct{ snap engine.Snapshot }

func (e fixedEngines) Snapshot() (engine.Snapshot, error) { return e.snap, nil }

func rankedEngine() engine.Snapshot {
	return engine.Snapshot{Engine: domain.Engine{
		GameEngineName: "awap-2023",
		NumPlayers:     2,
		MapChoice:      domain.MapSelection{RankedPossibleMaps: []string{"island"}},
	}}
}

func rankedRequest(teams ...string) domain.RankedScrimmages {
	req := domain.RankedScrimmages{GameEngineName: "awap-2023"}
	for _, name := range teams {
		req.UserSubmissions = append(req.UserSubmissions, domain.UserSubmission{
			Username: name, BucketName: "bots", ObjectKey: name + ".py",
		})
	}
	return req
}

func TestRunRejectsSmallRoster(t *testing.T) {
	d := &fakeDispatcher{ratings: map[string]int{"a": 1500, "b": 1400, "c": 1300}}
	svc := NewService(d, &fakeBatchStore{}, fixedEngines{rankedEngine()}, util.NewCounter(1), logger.NewNop())

	_, _, err := svc.Run(context.Background(), rankedRequest("a", "b", "c"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRunRejectsWrongEngine(t *testing.T) {
	d := &fakeDispatcher{ratings: map[string]int{"a": 1500, "b": 1400, "c": 1300, "d": 1200}}
	svc := NewService(d, &fakeBatchStore{}, fixedEngines{rankedEngine()}, util.NewCounter(1), logger.NewNop())

	req := rankedRequest("a", "b", "c", "d")
	req.GameEngineName = "awap-2022"
	_, _, err := svc.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRunBatchAdjustsRatingsOnce(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500, "c": 1400, "d": 1300},
		jobs:    make(chan sentJob, 16),
	}
	store := &fakeBatchStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{rankedEngine()}, util.NewCounter(100), logger.NewNop())

	batchID, n, err := svc.Run(context.Background(), rankedRequest("a", "b", "c", "d"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	// The lower-rated side wins every game.
	for i := 0; i < n; i++ {
		select {
		case job := <-d.jobs:
			require.True(t, svc.Fire(batchID, job.matchID, 1, "replay.json"))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	select {
	case <-store.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rating adjustment")
	}

	// All upsets: every point the favorites lose flows downward.
	assert.Equal(t, map[string]int{
		"a": 1600 - 12 - 15 - 16,
		"b": 1500 + 12 - 12 - 15,
		"c": 1400 + 15 + 12 - 12,
		"d": 1300 + 16 + 15 + 12,
	}, store.ratings)

	total := 0
	for _, r := range store.ratings {
		total += r
	}
	assert.Equal(t, 1600+1500+1400+1300, total, "rating mass must be conserved")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.finished, 6)
	for _, rec := range store.finished {
		assert.Equal(t, domain.KindRanked, rec.Kind)
		assert.Equal(t, "team1", rec.Outcome)
		assert.Positive(t, rec.EloChange)
		assert.Equal(t, "https://replays.test/replay.json", rec.ReplayURL)
	}

	assert.Eventually(t, func() bool {
		_, ok := svc.batches.Get(batchID)
		return !ok
	}, time.Second, 10*time.Millisecond, "batch must be cleared once ratings are applied")
}

func TestRunBatchSurvivesDispatchFailure(t *testing.T) {
	d := &fakeDispatcher{
		ratings: map[string]int{"a": 1600, "b": 1500, "c": 1400, "d": 1300},
		jobs:    make(chan sentJob, 16),
		failFor: map[string]bool{"d": true}, // every pairing with d as the lower side fails
	}
	store := &fakeBatchStore{done: make(chan struct{})}
	svc := NewService(d, store, fixedEngines{rankedEngine()}, util.NewCounter(1), logger.NewNop())

	batchID, n, err := svc.Run(context.Background(), rankedRequest("a", "b", "c", "d"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	// Only the three pairings not led by d are dispatched.
	for i := 0; i < 3; i++ {
		select {
		case job := <-d.jobs:
			require.True(t, svc.Fire(batchID, job.matchID, 2, "replay.json"))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	select {
	case <-store.done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch never completed; failed dispatches must still release the barrier")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.failed, 3)
	assert.Len(t, store.finished, 3)
	assert.Contains(t, store.ratings, "d", "unplayed teams keep their rating")
	assert.Equal(t, 1300, store.ratings["d"])
}
