package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Peakviker/RefSeller/internal/queue"
)

func newJob(key string, priority int, runAt time.Time) queue.Job {
	return queue.Job{
		ID:          uuid.New(),
		Key:         key,
		Payload:     []byte(`{}`),
		Priority:    priority,
		MaxAttempts: 3,
		BackoffBase: time.Minute,
		RunAt:       runAt,
		CreatedAt:   runAt,
	}
}

func TestMemoryStorage_EnqueueIsIdempotentWhileLive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	first := newJob("notification-1", 1, now)
	created, err := s.Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Enqueue(ctx, newJob("notification-1", 1, now))
	require.NoError(t, err)
	assert.False(t, created, "waiting job must block a duplicate")

	claimed, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	created, err = s.Enqueue(ctx, newJob("notification-1", 1, now))
	require.NoError(t, err)
	assert.False(t, created, "active job must block a duplicate")

	require.NoError(t, s.Complete(ctx, first.ID, claimed.Attempts, now))

	created, err = s.Enqueue(ctx, newJob("notification-1", 1, now))
	require.NoError(t, err)
	assert.True(t, created, "finished job frees the key")
}

func TestMemoryStorage_ClaimOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	for _, j := range []queue.Job{
		newJob("low", 10, now),
		newJob("high", 1, now),
		newJob("normal", 5, now),
		newJob("later", 0, now.Add(time.Hour)),
	} {
		_, err := s.Enqueue(ctx, j)
		require.NoError(t, err)
	}

	var got []string
	for {
		j, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
		if errors.Is(err, queue.ErrNoJobs) {
			break
		}
		require.NoError(t, err)
		got = append(got, j.Key)
	}
	assert.Equal(t, []string{"high", "normal", "low"}, got, "jobs scheduled in the future are not claimable")
}

func TestMemoryStorage_AgingPreventsStarvation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	_, err := s.Enqueue(ctx, newJob("old-low", 10, now.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, newJob("fresh-high", 1, now))
	require.NoError(t, err)

	j, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute, AgingStep: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "old-low", j.Key)
}

func TestMemoryStorage_ExpiredLockIsRedelivered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	_, err := s.Enqueue(ctx, newJob("notification-7", 1, now))
	require.NoError(t, err)

	first, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)

	_, err = s.Claim(ctx, queue.ClaimParams{Now: now.Add(30 * time.Second), LockFor: time.Minute})
	assert.ErrorIs(t, err, queue.ErrNoJobs)

	again, err := s.Claim(ctx, queue.ClaimParams{Now: now.Add(2 * time.Minute), LockFor: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestMemoryStorage_StaleAttemptCannotSettleReclaimedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	_, err := s.Enqueue(ctx, newJob("notification-7", 1, now))
	require.NoError(t, err)

	stale, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	require.NoError(t, err)
	current, err := s.Claim(ctx, queue.ClaimParams{Now: now.Add(2 * time.Minute), LockFor: time.Minute})
	require.NoError(t, err)
	require.Equal(t, stale.ID, current.ID)

	assert.ErrorIs(t, s.Complete(ctx, stale.ID, stale.Attempts, now), queue.ErrLockLost)
	assert.ErrorIs(t, s.Fail(ctx, stale.ID, stale.Attempts, now, "late"), queue.ErrLockLost)
	assert.ErrorIs(t, s.Retry(ctx, stale.ID, stale.Attempts, now, "late"), queue.ErrLockLost)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Active: 1}, counts, "stale results leave the redelivery untouched")

	require.NoError(t, s.Retry(ctx, current.ID, current.Attempts, now.Add(3*time.Minute), "boom"))
	assert.ErrorIs(t, s.Complete(ctx, current.ID, current.Attempts, now), queue.ErrLockLost, "settled attempt cannot settle twice")
}

func TestMemoryStorage_ExpiredLastAttemptIsFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	job := newJob("notification-8", 1, now)
	job.MaxAttempts = 1
	_, err := s.Enqueue(ctx, job)
	require.NoError(t, err)
	_, err = s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	_, err = s.Claim(ctx, queue.ClaimParams{Now: later, LockFor: time.Minute})
	assert.ErrorIs(t, err, queue.ErrNoJobs, "no attempts left to redeliver")

	expired, err := s.FailExpired(ctx, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, expired, "lock still held")

	expired, err = s.FailExpired(ctx, later)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, job.ID, expired[0].ID)
	assert.Equal(t, queue.JobFailed, expired[0].Status)
	assert.Equal(t, queue.ErrLockExpired.Error(), expired[0].LastError)

	created, err := s.Enqueue(ctx, newJob("notification-8", 1, later))
	require.NoError(t, err)
	assert.True(t, created, "failed job frees the key")
}

func TestMemoryStorage_RetryAndFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	job := newJob("notification-9", 1, now)
	_, err := s.Enqueue(ctx, job)
	require.NoError(t, err)
	claimed, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	require.NoError(t, err)

	require.NoError(t, s.Retry(ctx, job.ID, claimed.Attempts, now.Add(time.Minute), "boom"))
	_, err = s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
	assert.ErrorIs(t, err, queue.ErrNoJobs, "retry is not runnable before run_at")

	claimed, err = s.Claim(ctx, queue.ClaimParams{Now: now.Add(time.Minute), LockFor: time.Minute})
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, job.ID, claimed.Attempts, now, "boom again"))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Failed: 1}, counts)

	assert.ErrorIs(t, s.Complete(ctx, uuid.New(), 1, now), queue.ErrJobNotFound)
}

func TestMemoryStorage_Prune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	now := time.Now()

	for i := range 4 {
		j := newJob(uuid.NewString(), 1, now)
		_, err := s.Enqueue(ctx, j)
		require.NoError(t, err)
		claimed, err := s.Claim(ctx, queue.ClaimParams{Now: now, LockFor: time.Minute})
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, s.Complete(ctx, j.ID, claimed.Attempts, now.Add(time.Duration(i)*time.Second)))
		} else {
			require.NoError(t, s.Fail(ctx, j.ID, claimed.Attempts, now.Add(time.Duration(i)*time.Second), "x"))
		}
	}

	removed, err := s.Prune(ctx, 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Completed: 1}, counts)
	assert.Equal(t, 2*time.Second, s.Jobs()[0].FinishedAt.Sub(now), "newest completed job is kept")
}

func TestMemoryStorage_Unavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := queue.NewMemoryStorage()
	down := errors.New("connection refused")
	s.SetUnavailable(down)

	assert.ErrorIs(t, s.Ping(ctx), down)
	_, err := s.Enqueue(ctx, newJob("k", 1, time.Now()))
	assert.ErrorIs(t, err, down)

	s.SetUnavailable(nil)
	assert.NoError(t, s.Ping(ctx))
}
