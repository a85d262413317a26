// Package quotatest provides an in-memory quota.Ledger for tests.
package quotatest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/quota"
)

type key struct {
	client uuid.UUID
	month  time.Time
}

// Ledger keeps quota rows in memory. Each (client, month) row has its own
// one-slot semaphore so WithLock serializes like SELECT ... FOR UPDATE and
// gives up when ctx ends.
type Ledger struct {
	mu     sync.Mutex
	rows   map[key]*quota.ClientQuota
	locks  map[key]chan struct{}
	topups []quota.Topup

	// Err, when set, is returned by every call.
	Err error
}

func NewLedger() *Ledger {
	return &Ledger{
		rows:  make(map[key]*quota.ClientQuota),
		locks: make(map[key]chan struct{}),
	}
}

func (l *Ledger) sem(k key) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[k] = ch
	}
	return ch
}

func (l *Ledger) lock(ctx context.Context, k key) (func(), error) {
	ch := l.sem(k)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Hold locks the row until the returned function is called.
func (l *Ledger) Hold(clientID uuid.UUID, month time.Time) func() {
	unlock, _ := l.lock(context.Background(), key{clientID, quota.MonthOf(month)})
	return unlock
}

// Seed creates or edits a row directly, bypassing the service.
func (l *Ledger) Seed(clientID uuid.UUID, month time.Time, limits quota.Limits, edit func(q *quota.ClientQuota)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rowLocked(key{clientID, quota.MonthOf(month)}, limits)
	if edit != nil {
		edit(row)
	}
}

func (l *Ledger) rowLocked(k key, limits quota.Limits) *quota.ClientQuota {
	row, ok := l.rows[k]
	if !ok {
		now := time.Now().UTC()
		row = &quota.ClientQuota{
			ID:         uuid.New(),
			ClientID:   k.client,
			Month:      k.month,
			BWLimit:    limits.BW,
			ColorLimit: limits.Color,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		l.rows[k] = row
	}
	return row
}

func (l *Ledger) snapshotLocked(row *quota.ClientQuota) *quota.ClientQuota {
	cp := *row
	cp.TopupBW, cp.TopupColor = 0, 0
	next := row.Month.AddDate(0, 1, 0)
	for _, t := range l.topups {
		if t.ClientID == row.ClientID && !t.TransactionDate.Before(row.Month) && t.TransactionDate.Before(next) {
			cp.TopupBW += t.BWAdded
			cp.TopupColor += t.ColorAdded
		}
	}
	return &cp
}

func (l *Ledger) Get(ctx context.Context, clientID uuid.UUID, month time.Time) (*quota.ClientQuota, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[key{clientID, quota.MonthOf(month)}]
	if !ok {
		return nil, nil
	}
	return l.snapshotLocked(row), nil
}

func (l *Ledger) GetOrCreate(ctx context.Context, clientID uuid.UUID, month time.Time, limits quota.Limits) (*quota.ClientQuota, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(l.rowLocked(key{clientID, quota.MonthOf(month)}, limits)), nil
}

func (l *Ledger) WithLock(ctx context.Context, clientID uuid.UUID, month time.Time, limits quota.Limits, fn func(q *quota.ClientQuota) error) (*quota.ClientQuota, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	k := key{clientID, quota.MonthOf(month)}
	unlock, err := l.lock(ctx, k)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l.mu.Lock()
	working := l.snapshotLocked(l.rowLocked(k, limits))
	l.mu.Unlock()

	if err := fn(working); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	row := l.rows[k]
	row.BWUsed = working.BWUsed
	row.ColorUsed = working.ColorUsed
	row.BWAlertSent = working.BWAlertSent
	row.ColorAlertSent = working.ColorAlertSent
	row.UpdatedAt = time.Now().UTC()
	return l.snapshotLocked(row), nil
}

func (l *Ledger) AppendTopup(ctx context.Context, t *quota.Topup, limits quota.Limits) error {
	if l.Err != nil {
		return l.Err
	}
	k := key{t.ClientID, quota.MonthOf(t.TransactionDate)}
	unlock, err := l.lock(ctx, k)
	if err != nil {
		return err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rowLocked(k, limits)
	l.topups = append(l.topups, *t)
	return nil
}

func (l *Ledger) ListTopups(ctx context.Context, clientID uuid.UUID, month time.Time) ([]quota.Topup, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	month = quota.MonthOf(month)
	next := month.AddDate(0, 1, 0)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []quota.Topup
	for _, t := range l.topups {
		if t.ClientID == clientID && !t.TransactionDate.Before(month) && t.TransactionDate.Before(next) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionDate.After(out[j].TransactionDate) })
	return out, nil
}
