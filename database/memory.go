package database

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/cmwaters/verdict/voting"
)

var _ voting.Store = (*MemoryStore)(nil)

// MemoryStore keeps copies of every record for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uint64]voting.Record
	guards  map[voting.GuardKey]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uint64]voting.Record),
		guards:  make(map[voting.GuardKey]struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, rec *voting.Record, guard *voting.GuardKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Tally = slices.Clone(rec.Tally)
	s.records[rec.ID] = cp
	if guard != nil {
		s.guards[*guard] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Load(context.Context) ([]*voting.Record, []voting.GuardKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*voting.Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := rec
		cp.Tally = slices.Clone(rec.Tally)
		records = append(records, &cp)
	}
	slices.SortFunc(records, func(a, b *voting.Record) int {
		return cmp.Compare(a.ID, b.ID)
	})
	guards := make([]voting.GuardKey, 0, len(s.guards))
	for key := range s.guards {
		guards = append(guards, key)
	}
	return records, guards, nil
}

func (s *MemoryStore) Close() error { return nil }
