package processor

import (
	"hash/fnv"
	"sync"
)

// streamState is the per-stream session state. Owned exclusively by the
// processor, keyed by stream key, never shared across streams.
type streamState struct {
	lastBalance *float64
	lastBet     *float64
	history     []float64
	pending     *pendingConfirmation
}

// pendingConfirmation tracks a suspicious value awaiting recurrence across
// consecutive samples before acceptance.
type pendingConfirmation struct {
	value float64
	count int
}

const stateShards = 16

// stateStore shards per-stream state behind per-shard locks so concurrent
// callers for different streams rarely contend, while callers for the same
// stream serialize on one mutex.
type stateStore struct {
	shards [stateShards]struct {
		mu     sync.Mutex
		states map[string]*streamState
	}
}

func newStateStore() *stateStore {
	s := &stateStore{}
	for i := range s.shards {
		s.shards[i].states = make(map[string]*streamState)
	}
	return s
}

func (s *stateStore) shardFor(streamKey string) *struct {
	mu     sync.Mutex
	states map[string]*streamState
} {
	h := fnv.New32a()
	h.Write([]byte(streamKey))
	return &s.shards[h.Sum32()%stateShards]
}

// withState runs fn while holding the stream's shard lock, creating state on
// first use.
func (s *stateStore) withState(streamKey string, fn func(st *streamState)) {
	shard := s.shardFor(streamKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	st, ok := shard.states[streamKey]
	if !ok {
		st = &streamState{}
		shard.states[streamKey] = st
	}
	fn(st)
}

// reset drops the stream's state so the next reading is a first reading.
func (s *stateStore) reset(streamKey string) {
	shard := s.shardFor(streamKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.states, streamKey)
}
