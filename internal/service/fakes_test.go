package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Peakviker/RefSeller/internal/entity"
	"github.com/Peakviker/RefSeller/pkg/postgres"
)

// memRepo mirrors NotifyRepository semantics in memory.
type memRepo struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*entity.Notification
	order    []uuid.UUID
	prefs    map[string]entity.Preferences
	blocked  map[string]bool
	lastSent map[string]time.Time
	writes   int
	down     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		records:  make(map[uuid.UUID]*entity.Notification),
		prefs:    make(map[string]entity.Preferences),
		blocked:  make(map[string]bool),
		lastSent: make(map[string]time.Time),
	}
}

func (r *memRepo) Create(_ context.Context, _ postgres.QueryExecuter, userID string, typ entity.NotificationType, content json.RawMessage) (*entity.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.down != nil {
		return nil, r.down
	}
	r.writes++
	n := &entity.Notification{
		ID:        uuid.Must(uuid.NewV7()),
		UserID:    userID,
		Type:      typ,
		Content:   content,
		Status:    entity.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	r.records[n.ID] = n
	r.order = append(r.order, n.ID)
	out := *n
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, _ postgres.QueryExecuter, id uuid.UUID) (*entity.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return nil, entity.ErrNotificationNotFound
	}
	out := *n
	return &out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, _ postgres.QueryExecuter, id uuid.UUID, status entity.Status, upd entity.StatusUpdate) (*entity.Notification, error) {
	if err := upd.Validate(status); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.records[id]
	if !ok {
		return nil, entity.ErrNotificationNotFound
	}
	if n.Status.IsTerminal() {
		return nil, fmt.Errorf("%s -> %s: %w", n.Status, status, entity.ErrNotificationFinalized)
	}
	if !n.Status.CanTransition(status) {
		return nil, fmt.Errorf("%s -> %s: %w", n.Status, status, entity.ErrInvalidData)
	}

	r.writes++
	n.Status = status
	if upd.SentAt != nil {
		at := *upd.SentAt
		n.SentAt = &at
	}
	if upd.TransportMessageID != nil {
		n.TransportMessageID = *upd.TransportMessageID
	}
	if upd.ErrorMessage != nil {
		n.ErrorMessage = *upd.ErrorMessage
	}
	if upd.RetryCount != nil {
		n.RetryCount = max(n.RetryCount, *upd.RetryCount)
	}
	out := *n
	return &out, nil
}

func (r *memRepo) GetPreferences(_ context.Context, _ postgres.QueryExecuter, userID string) (entity.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.down != nil {
		return entity.Preferences{}, r.down
	}
	if p, ok := r.prefs[userID]; ok {
		return p, nil
	}
	return entity.DefaultPreferences(userID), nil
}

func (r *memRepo) UpdatePreferences(_ context.Context, _ postgres.QueryExecuter, userID string, patch entity.PreferencesPatch) (entity.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base, ok := r.prefs[userID]
	if !ok {
		base = entity.DefaultPreferences(userID)
	}
	r.writes++
	updated := patch.Apply(base)
	updated.UpdatedAt = time.Now().UTC()
	r.prefs[userID] = updated
	return updated, nil
}

func (r *memRepo) IsBlocked(_ context.Context, _ postgres.QueryExecuter, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked[userID], nil
}

func (r *memRepo) SetBlocked(_ context.Context, _ postgres.QueryExecuter, userID string, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	r.blocked[userID] = blocked
	return nil
}

func (r *memRepo) SetLastNotificationAt(_ context.Context, _ postgres.QueryExecuter, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSent[userID] = at
	return nil
}

func (r *memRepo) History(_ context.Context, _ postgres.QueryExecuter, userID string, filter entity.HistoryFilter) ([]entity.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Notification
	for i := len(r.order) - 1; i >= 0; i-- {
		n := r.records[r.order[i]]
		if n.UserID != userID {
			continue
		}
		if filter.Type != nil && n.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && n.Status != *filter.Status {
			continue
		}
		out = append(out, *n)
	}
	if int(filter.Offset) >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > int(filter.Limit) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRepo) Stats(_ context.Context, _ postgres.QueryExecuter, userID string, since time.Time) ([]entity.StatsRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct {
		t entity.NotificationType
		s entity.Status
	}
	counts := make(map[key]int64)
	for _, n := range r.records {
		if n.UserID == userID && !n.CreatedAt.Before(since) {
			counts[key{n.Type, n.Status}]++
		}
	}
	rows := make([]entity.StatsRow, 0, len(counts))
	for k, c := range counts {
		rows = append(rows, entity.StatsRow{Type: k.t, Status: k.s, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Status < rows[j].Status
	})
	return rows, nil
}

func (r *memRepo) Cleanup(context.Context, postgres.QueryExecuter, entity.CleanupPolicy) (entity.CleanupResult, error) {
	return entity.CleanupResult{}, nil
}

func (r *memRepo) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.down
}

func (r *memRepo) only(t interface{ Helper() }, userID string) []entity.Notification {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Notification
	for _, id := range r.order {
		if n := r.records[id]; n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// pausingRepo stops the first GetPreferences after the row has been read,
// until release is closed.
type pausingRepo struct {
	*memRepo
	paused  atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newPausingRepo() *pausingRepo {
	return &pausingRepo{
		memRepo: newMemRepo(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *pausingRepo) GetPreferences(ctx context.Context, qe postgres.QueryExecuter, userID string) (entity.Preferences, error) {
	prefs, err := r.memRepo.GetPreferences(ctx, qe, userID)
	if r.paused.CompareAndSwap(false, true) {
		close(r.entered)
		<-r.release
	}
	return prefs, err
}

type txManager struct{}

func (txManager) ExecuteInTransaction(ctx context.Context, _ string, fn postgres.TxFunc) error {
	var tx pgx.Tx
	return fn(ctx, tx)
}

// scriptedTransport replays the queued results, then succeeds.
type scriptedTransport struct {
	mu      sync.Mutex
	results []error
	calls   []string
	seq     int
}

func (s *scriptedTransport) Send(_ context.Context, userID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, userID+": "+text)
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		if err != nil {
			return "", err
		}
	}
	s.seq++
	return fmt.Sprintf("msg-%d", s.seq), nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

var errQueueDown = errors.New("queue storage unavailable")
