package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage хранит задания в памяти процесса. Порядок выдачи и правила ключей
// те же, что у хранилища в Postgres. Для тестов и локального запуска.
type MemoryStorage struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	live map[string]uuid.UUID
	down error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[uuid.UUID]*Job),
		live: make(map[string]uuid.UUID),
	}
}

// SetUnavailable заставляет все вызовы возвращать err до вызова с nil.
func (s *MemoryStorage) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = err
}

func (s *MemoryStorage) Enqueue(_ context.Context, job Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return false, s.down
	}
	if _, ok := s.live[job.Key]; ok {
		return false, nil
	}

	j := job
	j.Status = JobWaiting
	s.jobs[j.ID] = &j
	s.live[j.Key] = j.ID
	return true, nil
}

func (s *MemoryStorage) Claim(_ context.Context, params ClaimParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return nil, s.down
	}

	var best *Job
	var bestPrio int
	for _, j := range s.jobs {
		if !claimable(j, params.Now) {
			continue
		}
		prio := EffectivePriority(j, params.Now, params.AgingStep)
		if best == nil || prio < bestPrio ||
			(prio == bestPrio && j.RunAt.Before(best.RunAt)) ||
			(prio == bestPrio && j.RunAt.Equal(best.RunAt) && j.CreatedAt.Before(best.CreatedAt)) {
			best, bestPrio = j, prio
		}
	}
	if best == nil {
		return nil, ErrNoJobs
	}

	lockedUntil := params.Now.Add(params.LockFor)
	best.Status = JobActive
	best.Attempts++
	best.LockedUntil = &lockedUntil

	out := *best
	return &out, nil
}

func claimable(j *Job, now time.Time) bool {
	switch j.Status {
	case JobWaiting:
		return !j.RunAt.After(now)
	case JobActive:
		return j.LockedUntil != nil && j.LockedUntil.Before(now) && j.Attempts < j.MaxAttempts
	default:
		return false
	}
}

func (s *MemoryStorage) Complete(_ context.Context, id uuid.UUID, attempt int, at time.Time) error {
	return s.finish(id, attempt, JobCompleted, at, "")
}

func (s *MemoryStorage) Fail(_ context.Context, id uuid.UUID, attempt int, at time.Time, lastErr string) error {
	return s.finish(id, attempt, JobFailed, at, lastErr)
}

// owned возвращает задание, если попытка attempt все еще владеет им. Caller holds s.mu.
func (s *MemoryStorage) owned(id uuid.UUID, attempt int) (*Job, error) {
	if s.down != nil {
		return nil, s.down
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.Status != JobActive || j.Attempts != attempt {
		return nil, ErrLockLost
	}
	return j, nil
}

func (s *MemoryStorage) finish(id uuid.UUID, attempt int, status JobStatus, at time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(id, attempt)
	if err != nil {
		return err
	}
	s.closeJob(j, status, at, lastErr)
	return nil
}

// closeJob переводит задание в конечный статус и освобождает ключ. Caller holds s.mu.
func (s *MemoryStorage) closeJob(j *Job, status JobStatus, at time.Time, lastErr string) {
	j.Status = status
	j.FinishedAt = &at
	j.LockedUntil = nil
	if lastErr != "" {
		j.LastError = lastErr
	}
	if s.live[j.Key] == j.ID {
		delete(s.live, j.Key)
	}
}

func (s *MemoryStorage) Retry(_ context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.owned(id, attempt)
	if err != nil {
		return err
	}

	j.Status = JobWaiting
	j.RunAt = runAt
	j.LockedUntil = nil
	j.LastError = lastErr
	return nil
}

func (s *MemoryStorage) FailExpired(_ context.Context, now time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return nil, s.down
	}

	var out []*Job
	for _, j := range s.jobs {
		if j.Status != JobActive || j.LockedUntil == nil || !j.LockedUntil.Before(now) || j.Attempts < j.MaxAttempts {
			continue
		}
		s.closeJob(j, JobFailed, now, ErrLockExpired.Error())
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStorage) Prune(_ context.Context, keepCompleted, keepFailed int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return 0, s.down
	}

	var removed int64
	for status, keep := range map[JobStatus]int{JobCompleted: keepCompleted, JobFailed: keepFailed} {
		var finished []*Job
		for _, j := range s.jobs {
			if j.Status == status {
				finished = append(finished, j)
			}
		}
		if len(finished) <= keep {
			continue
		}
		slices.SortFunc(finished, func(a, b *Job) int {
			return b.FinishedAt.Compare(*a.FinishedAt)
		})
		for _, j := range finished[keep:] {
			delete(s.jobs, j.ID)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) Counts(_ context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down != nil {
		return Counts{}, s.down
	}

	var c Counts
	for _, j := range s.jobs {
		switch j.Status {
		case JobWaiting:
			c.Waiting++
		case JobActive:
			c.Active++
		case JobCompleted:
			c.Completed++
		case JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *MemoryStorage) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

// Jobs возвращает копию всех заданий.
func (s *MemoryStorage) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	slices.SortFunc(out, func(a, b Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
