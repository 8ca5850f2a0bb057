package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/perseo/internal/notify"
	"github.com/d9705996/perseo/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCleaner struct {
	calls     int
	retention time.Duration
}

func (c *countingCleaner) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	c.calls++
	c.retention = retention
	return 3, nil
}

func TestJobKinds(t *testing.T) {
	assert.Equal(t, "email_dispatch", worker.EmailArgs{}.Kind())
	assert.Equal(t, "refresh_token_cleanup", worker.TokenCleanupArgs{}.Kind())
}

func TestSQLiteQueue_RunsInline(t *testing.T) {
	rec := &notify.Recorder{}
	cleaner := &countingCleaner{}
	q, err := worker.New(worker.Deps{Driver: "sqlite", Mailer: rec, Cleaner: cleaner})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(ctx) })

	n := worker.Notifier{Queue: q}
	require.NoError(t, n.SendVerification(ctx, "a@example.com", "Ada", "tok"))
	m, ok := rec.Last(notify.TemplateVerification)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", m.To)

	require.NoError(t, q.Enqueue(ctx, worker.TokenCleanupArgs{}))
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, worker.TokenRetention, cleaner.retention)
}
