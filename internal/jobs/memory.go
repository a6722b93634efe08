package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-discovery/internal/model"
)

// MemoryStore keeps jobs in process memory. Terminal jobs are dropped after
// ttl; active jobs are dropped after ttl as a stuck-job guard.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[model.JobKey]*model.DiscoveryJob
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		jobs: make(map[model.JobKey]*model.DiscoveryJob),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) expired(j *model.DiscoveryJob, now time.Time) bool {
	ref := j.CreatedAt
	if j.FinishedAt != nil {
		ref = *j.FinishedAt
	}
	return now.Sub(ref) >= s.ttl
}

// lookup returns the live job for key, evicting it if expired. Caller holds mu.
func (s *MemoryStore) lookup(key model.JobKey, now time.Time) *model.DiscoveryJob {
	j, ok := s.jobs[key]
	if !ok {
		return nil
	}
	if s.expired(j, now) {
		delete(s.jobs, key)
		return nil
	}
	return j
}

func (s *MemoryStore) TryAcquire(_ context.Context, key model.JobKey) (model.DiscoveryJob, bool, error) {
	if err := validateKey(key); err != nil {
		return model.DiscoveryJob{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	attempt := 1
	if cur, ok := s.jobs[key]; ok {
		if !cur.State.Terminal() && !s.expired(cur, now) {
			return *cur, false, nil
		}
		attempt = cur.Attempt + 1
	}
	job := newJob(key, attempt, now)
	s.jobs[key] = &job
	return job, true, nil
}

func (s *MemoryStore) Start(_ context.Context, key model.JobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	j := s.lookup(key, now)
	if j == nil {
		return eris.Wrapf(model.ErrNotFound, "jobs: %s", key)
	}
	return applyStart(j, now)
}

func (s *MemoryStore) Finish(_ context.Context, key model.JobKey, state model.JobState, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	j := s.lookup(key, now)
	if j == nil {
		return eris.Wrapf(model.ErrNotFound, "jobs: %s", key)
	}
	return applyFinish(j, state, outcome, now)
}

func (s *MemoryStore) Get(_ context.Context, key model.JobKey) (*model.DiscoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.lookup(key, s.now())
	if j == nil {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) Active(_ context.Context, providerID string) ([]model.DiscoveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []model.DiscoveryJob
	for key := range s.jobs {
		if key.ProviderID != providerID {
			continue
		}
		if j := s.lookup(key, now); j != nil && j.Active() {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key.ServiceType < out[k].Key.ServiceType })
	return out, nil
}

// Sweep drops expired jobs and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for key, j := range s.jobs {
		if s.expired(j, now) {
			delete(s.jobs, key)
			n++
		}
	}
	return n
}
