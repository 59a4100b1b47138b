package security

import (
	"context"
	"sync"
	"time"

	"github.com/weave-iot/libweave/internal/interfaces"
)

// fixedTestTime is the default reference time used across this package's
// tests (a seconds-since-epoch value in the 1.4 billion range).
var fixedTestTime = time.Unix(1450000000, 0)

// fakeClock is a controllable interfaces.Clock, mirroring the original's
// test::MockClock: time only moves when the test moves it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCertificateProvider returns a fixed fingerprint.
type fakeCertificateProvider struct {
	fingerprint []byte
}

func (f *fakeCertificateProvider) CertificateFingerprint() []byte {
	return f.fingerprint
}

// fakeTaskRunner stores posted tasks, ignoring their delay, until the test
// fires them manually via RunPending, so unit tests don't need real timers.
// With auto set it instead runs each task synchronously as it is posted;
// newFakeTaskRunner leaves auto unset.
type fakeTaskRunner struct {
	mu      sync.Mutex
	pending []func()
	auto    bool
}

// newFakeTaskRunner returns a runner that queues tasks until RunPending is
// called explicitly — used by tests that need to control exactly when a
// timer fires (e.g. session expiry).
func newFakeTaskRunner() *fakeTaskRunner {
	return &fakeTaskRunner{}
}

func (r *fakeTaskRunner) PostDelayedTask(delay time.Duration, task func()) {
	r.mu.Lock()
	if r.auto {
		r.mu.Unlock()
		task()
		return
	}
	r.pending = append(r.pending, task)
	r.mu.Unlock()
}

// RunPending executes and clears every task queued so far, in order.
func (r *fakeTaskRunner) RunPending() {
	r.mu.Lock()
	tasks := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, t := range tasks {
		t()
	}
}

// fakeConfigStore is an in-memory interfaces.ConfigStore.
type fakeConfigStore struct {
	mu       sync.Mutex
	values   map[string]string
	saveErr  error
	saveCalls int
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{values: make(map[string]string)}
}

func (s *fakeConfigStore) LoadSettings(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *fakeConfigStore) SaveSettings(ctx context.Context, key, value string, done interfaces.DoneFunc) {
	s.mu.Lock()
	s.saveCalls++
	if s.saveErr == nil {
		s.values[key] = value
	}
	err := s.saveErr
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *fakeConfigStore) SaveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}
