package trainer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/swarmml/swarm/pkg/dht"
	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// virtualClock advances instantly through every wait, recording the
// requested durations. Now moves only when a wait completes, which
// makes timeout and backoff arithmetic deterministic.
type virtualClock struct {
	clockwork.Clock

	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newVirtualClock() *virtualClock {
	return &virtualClock{
		Clock: clockwork.NewRealClock(),
		now:   time.Unix(1700000000, 0),
	}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *virtualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *virtualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now

	return ch
}

func (c *virtualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)

	return out
}

// countingStore counts Put calls per key on top of a real store.
type countingStore struct {
	dht.Store

	mu   sync.Mutex
	puts map[string]int
}

func newCountingStore(inner dht.Store) *countingStore {
	return &countingStore{Store: inner, puts: make(map[string]int)}
}

func (s *countingStore) Put(ctx context.Context, key, subkey string, value any, expiration time.Time) error {
	s.mu.Lock()
	s.puts[key]++
	s.mu.Unlock()

	return s.Store.Put(ctx, key, subkey, value, expiration)
}

func (s *countingStore) Puts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts[key]
}

// unavailableStore fails every operation the way a flaky transport
// backend would.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (map[string]dht.Entry, error) {
	return nil, fmt.Errorf("get: %w", pkgerrors.ErrStoreUnavailable)
}

func (unavailableStore) GetValue(context.Context, string) (dht.Entry, error) {
	return dht.Entry{}, fmt.Errorf("get value: %w", pkgerrors.ErrStoreUnavailable)
}

func (unavailableStore) Put(context.Context, string, string, any, time.Time) error {
	return fmt.Errorf("put: %w", pkgerrors.ErrStoreUnavailable)
}

type sizedDataset []string

func (d sizedDataset) Len() int {
	return len(d)
}

// fakeSession fails its first failures runs, then succeeds, driving
// the observer through steps training steps.
type fakeSession struct {
	failures int
	failWith error
	steps    int
	onStep   func(step int)

	mu       sync.Mutex
	runs     int
	saves    []string
	pushTags []string
	barriers int
	caches   int

	// cleanups lets the session observe how often cleanup ran before
	// its first successful attempt.
	cleanups        *int
	cleanupsAtStart int
}

func (s *fakeSession) Run(ctx context.Context, observer StepObserver) (TrainMetrics, error) {
	s.mu.Lock()
	s.runs++
	runs := s.runs
	if s.cleanups != nil {
		s.cleanupsAtStart = *s.cleanups
	}
	s.mu.Unlock()

	if runs <= s.failures {
		return nil, s.failWith
	}

	for step := 1; step <= s.steps; step++ {
		if s.onStep != nil {
			s.onStep(step)
		}
		if err := observer.OnStepComplete(ctx, step); err != nil {
			return nil, err
		}
	}

	return TrainMetrics{"loss": 0.25}, nil
}

func (s *fakeSession) SaveState(_ context.Context, _ string) error {
	return s.recordSave("state")
}

func (s *fakeSession) SaveModel(_ context.Context, _ string) error {
	return s.recordSave("model")
}

func (s *fakeSession) SaveTokenizer(_ context.Context, _ string) error {
	return s.recordSave("tokenizer")
}

func (s *fakeSession) PushToHub(_ context.Context, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushTags = tags

	return nil
}

func (s *fakeSession) recordSave(what string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, what)

	return nil
}

func (s *fakeSession) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runs
}

// hookedSession adds the optional persistence hooks.
type hookedSession struct {
	fakeSession
}

func (s *hookedSession) Barrier(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barriers++

	return nil
}

func (s *hookedSession) EnableInferenceCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches++
}

func staticFactory(sess Session) SessionFactory {
	return func(context.Context, SessionConfig) (Session, error) {
		return sess, nil
	}
}

func staticStages(names ...string) []Stage {
	stages := make([]Stage, len(names))
	for i, name := range names {
		stages[i] = Stage{
			Name: name,
			DatasetsFn: func(context.Context, int, int) (Dataset, Dataset, error) {
				return sizedDataset{"q1", "q2", "q3", "q4"}, sizedDataset{}, nil
			},
		}
	}

	return stages
}

func testConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		OutputDir:  filepath.Join(t.TempDir(), "runs"),
		RetryDelay: time.Second,
	}
}
