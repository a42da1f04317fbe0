package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
// TTLs and lock expiries are evaluated lazily on access.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]map[string]string
	ttls  map[string]time.Time
	locks map[string]memoryLock

	now func() time.Time
}

type memoryLock struct {
	holder  string
	expires time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]map[string]string),
		ttls:  make(map[string]time.Time),
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (s *MemoryStore) SetJobFields(_ context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(jobID)
	job, ok := s.jobs[jobID]
	if !ok {
		job = make(map[string]string, len(fields))
		s.jobs[jobID] = job
	}
	for k, v := range fields {
		job[k] = v
	}
	return nil
}

func (s *MemoryStore) GetJobFields(_ context.Context, jobID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(jobID)
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := make(map[string]string, len(job))
	for k, v := range job {
		copied[k] = v
	}
	return copied, nil
}

func (s *MemoryStore) SetTTL(_ context.Context, jobID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; ok {
		s.ttls[jobID] = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(jobID)
	_, ok := s.jobs[jobID]
	return ok, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	delete(s.ttls, jobID)
	return nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, jobID, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[jobID]; ok && s.now().Before(lock.expires) {
		return false, nil
	}
	s.locks[jobID] = memoryLock{holder: holder, expires: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, jobID)
	return nil
}

func (s *MemoryStore) LockHeld(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[jobID]
	return ok && s.now().Before(lock.expires), nil
}

func (s *MemoryStore) ListJobIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		s.expireLocked(id)
		if _, ok := s.jobs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }

// expireLocked drops the job when its TTL has elapsed. Caller holds mu.
func (s *MemoryStore) expireLocked(jobID string) {
	if deadline, ok := s.ttls[jobID]; ok && !s.now().Before(deadline) {
		delete(s.jobs, jobID)
		delete(s.ttls, jobID)
	}
}
