// Package registry tracks in-flight batches of matches. Runner callbacks
// arrive on HTTP handler goroutines and are routed here to the per-match
// completion callback registered by the batch orchestrator.
//
// Two shapes share the contract "keyed set of batch registrations":
// ranked batches add a completion barrier the orchestrator waits on, while
// tournament batches are a plain mutex-guarded callback table (each pairing
// sequences its own series with its own turn channel).
package registry

import "sync"

// Callback is invoked with the winning side (1 or 2) and the stored replay
// filename when a match completes successfully.
type Callback func(winner int, replayFilename string)

// RankedBatch is one ranked scrimmage in flight: per-match callbacks plus a
// counting semaphore the orchestrator drains to learn the batch is done.
type RankedBatch struct {
	mu        sync.Mutex
	callbacks map[uint64]Callback
	fired     map[uint64]bool

	permits chan struct{}
	expect  int
}

// NewRankedBatch returns an empty batch; Init must run before the first Fire.
func NewRankedBatch() *RankedBatch {
	return &RankedBatch{
		callbacks: make(map[uint64]Callback),
		fired:     make(map[uint64]bool),
	}
}

// Init sizes the completion barrier to the number of matches in the batch.
func (b *RankedBatch) Init(numMatches int) {
	b.expect = numMatches
	b.permits = make(chan struct{}, numMatches)
}

// Register installs the completion callback for one match. Registration must
// precede job submission so the callback cannot miss its result.
func (b *RankedBatch) Register(matchID uint64, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[matchID] = cb
}

// Fire routes a match result. A winner of zero or below means the match
// failed: no callback runs, but a permit is still released so the barrier
// drains. Only the first fire per match counts; the runner retries callbacks
// it believes undelivered, and a repeat must not release an extra permit.
func (b *RankedBatch) Fire(matchID uint64, winner int, replayFilename string) {
	b.mu.Lock()
	if b.fired[matchID] {
		b.mu.Unlock()
		return
	}
	b.fired[matchID] = true
	cb := b.callbacks[matchID]
	delete(b.callbacks, matchID)
	b.mu.Unlock()

	if winner > 0 && cb != nil {
		cb(winner, replayFilename)
	}
	b.permits <- struct{}{}
}

// Wait blocks until every match in the batch has fired. The release/acquire
// pairing orders all callback writes before the orchestrator's reads.
func (b *RankedBatch) Wait() {
	for i := 0; i < b.expect; i++ {
		<-b.permits
	}
}

// TourneyBatch is one tournament in flight: a mutex-guarded callback table.
type TourneyBatch struct {
	mu        sync.Mutex
	callbacks map[uint64]Callback
}

// NewTourneyBatch returns an empty tournament batch.
func NewTourneyBatch() *TourneyBatch {
	return &TourneyBatch{callbacks: make(map[uint64]Callback)}
}

// Register installs the series callback for one match.
func (b *TourneyBatch) Register(matchID uint64, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[matchID] = cb
}

// Fire routes a match result to its series. Failed matches (winner <= 0) are
// still delivered so the series can advance past the slot. The registration
// is consumed on delivery, so a retried callback cannot fire a series twice.
func (b *TourneyBatch) Fire(matchID uint64, winner int, replayFilename string) {
	b.mu.Lock()
	cb := b.callbacks[matchID]
	delete(b.callbacks, matchID)
	b.mu.Unlock()

	if cb != nil {
		cb(winner, replayFilename)
	}
}

// Clear drops every registration. Called when the tournament completes.
func (b *TourneyBatch) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = make(map[uint64]Callback)
}

// RankedTable maps scrimmage ids to their in-flight batches.
type RankedTable struct {
	mu      sync.Mutex
	batches map[int64]*RankedBatch
}

func NewRankedTable() *RankedTable {
	return &RankedTable{batches: make(map[int64]*RankedBatch)}
}

// Create registers a new batch under id and returns it.
func (t *RankedTable) Create(id int64) *RankedBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := NewRankedBatch()
	t.batches[id] = b
	return b
}

// Get looks up an in-flight batch.
func (t *RankedTable) Get(id int64) (*RankedBatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	return b, ok
}

// Remove drops a completed batch.
func (t *RankedTable) Remove(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, id)
}

// TourneyTable maps tournament ids to their in-flight batches.
type TourneyTable struct {
	mu      sync.Mutex
	batches map[int64]*TourneyBatch
}

func NewTourneyTable() *TourneyTable {
	return &TourneyTable{batches: make(map[int64]*TourneyBatch)}
}

// Create registers a new batch under id and returns it.
func (t *TourneyTable) Create(id int64) *TourneyBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := NewTourneyBatch()
	t.batches[id] = b
	return b
}

// Get looks up an in-flight batch.
func (t *TourneyTable) Get(id int64) (*TourneyBatch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[id]
	return b, ok
}

// Remove drops a completed batch.
func (t *TourneyTable) Remove(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, id)
}
