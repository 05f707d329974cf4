package dht

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/swarmml/swarm/pkg/errors"
)

type record struct {
	plain *Entry
	subs  map[string]Entry
}

type inMemoryStore struct {
	sync.Mutex

	clock clockwork.Clock
	data  map[string]*record
}

// NewInMemoryStore returns a Store held entirely in process memory.
// Used by tests and single-process runs; expired entries are swept
// lazily on read.
func NewInMemoryStore(clock clockwork.Clock) Store {
	return &inMemoryStore{
		clock: clock,
		data:  make(map[string]*record),
	}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (map[string]Entry, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	rec, ok := s.data[key]
	if !ok {
		return nil, errors.ErrNotFound
	}

	now := s.clock.Now()
	out := make(map[string]Entry, len(rec.subs))
	for sub, entry := range rec.subs {
		if entry.Expired(now) {
			delete(rec.subs, sub)

			continue
		}
		out[sub] = entry
	}
	if len(out) == 0 {
		return nil, errors.ErrNotFound
	}

	return out, nil
}

func (s *inMemoryStore) GetValue(_ context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	rec, ok := s.data[key]
	if !ok || rec.plain == nil {
		return Entry{}, errors.ErrNotFound
	}
	if rec.plain.Expired(s.clock.Now()) {
		rec.plain = nil

		return Entry{}, errors.ErrNotFound
	}

	return *rec.plain, nil
}

func (s *inMemoryStore) Put(_ context.Context, key, subkey string, value any, expiration time.Time) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	entry, err := NewEntry(value, expiration)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	rec, ok := s.data[key]
	if !ok {
		rec = &record{subs: make(map[string]Entry)}
		s.data[key] = rec
	}

	if subkey == "" {
		rec.plain = &entry

		return nil
	}
	rec.subs[subkey] = entry

	return nil
}
