//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatiles/printops/internal/notifications"
	"github.com/versatiles/printops/internal/users"
)

func TestNotifications_SweepDeletesOldReadOnly(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	client, _ := CreateUser(t, env, users.RoleClient, nil)

	old := time.Now().UTC().AddDate(0, 0, -45)
	insert := func(createdAt time.Time, read bool) uuid.UUID {
		n := &notifications.Notification{
			ID:        uuid.New(),
			UserID:    client.ID,
			Category:  "quota",
			Level:     "info",
			Message:   "usage update",
			CreatedAt: createdAt,
		}
		require.NoError(t, env.NotifyRepo.Insert(ctx, n))
		if read {
			ok, err := env.NotifyRepo.MarkRead(ctx, client.ID, n.ID)
			require.NoError(t, err)
			require.True(t, ok)
		}
		return n.ID
	}
	insert(old, true)
	oldUnread := insert(old, false)
	recentRead := insert(time.Now().UTC(), true)

	deleted := notifications.NewSweeper(env.NotifyRepo, 30).Sweep(ctx)
	assert.GreaterOrEqual(t, deleted, int64(1))

	page, err := env.NotifyRepo.ListForUser(ctx, client.ID, notifications.ListParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.EqualValues(t, 1, page.Unread)

	var ids []uuid.UUID
	for _, n := range page.Items {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{oldUnread, recentRead}, ids)
}
