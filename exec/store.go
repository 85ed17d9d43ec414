package exec

import (
	"context"
	"sync"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
)

// slot holds one variable's stream plus how many more times a
// downstream node will Load it.
type slot struct {
	stream *ir.Stream
	uses   int
}

// Store is the executor's dense, index-keyed variable table. It is
// owned exclusively by the Executor that created it, but a single wave of the executor's dispatch
// loop reads and writes it from multiple concurrently-running node
// goroutines, so access is mutex-guarded.
type Store struct {
	mu    sync.Mutex
	slots map[int]*slot
}

func NewStore() *Store {
	return &Store{slots: make(map[int]*slot)}
}

// Put records a node's output stream under varID, along with how many
// downstream nodes will read it (their Inputs reference count).
func (s *Store) Put(varID int, uses int, stream *ir.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[varID] = &slot{stream: stream, uses: uses}
}

// Load returns varID's stream and decrements its remaining-use counter.
// A variable read more than once is fully buffered via Dup on first load
// so every reader gets an independent cursor over the same values; the
// slot is released once its counter reaches zero.
func (s *Store) Load(ctx context.Context, varID int) (*ir.Stream, error) {
	s.mu.Lock()
	sl, ok := s.slots[varID]
	if !ok {
		s.mu.Unlock()
		return nil, ormerr.Bugf("exec: variable %d read before it was produced", varID)
	}
	if sl.uses <= 0 {
		delete(s.slots, varID)
		s.mu.Unlock()
		return sl.stream, nil
	}
	sl.uses--
	last := sl.uses == 0
	if last {
		delete(s.slots, varID)
	}
	s.mu.Unlock()

	if last {
		return sl.stream, nil
	}
	dup, err := sl.stream.Dup(ctx)
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// has reports whether varID's slot has already been produced, used by
// the executor's readiness check when selecting the next wave of nodes.
func (s *Store) has(varID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[varID]
	return ok
}

// Take fetches the pipeline's final return variable directly, with no
// use-count bookkeeping: the caller is its one and only consumer.
func (s *Store) Take(varID int) (*ir.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[varID]
	if !ok {
		return nil, ormerr.Bugf("exec: return variable %d was never produced", varID)
	}
	delete(s.slots, varID)
	return sl.stream, nil
}

// Release drops every remaining slot without consuming it, used when the
// pipeline is cancelled mid-run and the variable store is discarded.
func (s *Store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[int]*slot)
}
