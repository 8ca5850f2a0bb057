package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/d9705996/perseo/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirect_RoutesTemplates(t *testing.T) {
	rec := &notify.Recorder{}
	n := notify.Direct{Mailer: rec}
	ctx := context.Background()

	require.NoError(t, n.SendVerification(ctx, "a@example.com", "Ada", "tok1"))
	require.NoError(t, n.SendPasswordReset(ctx, "a@example.com", "Ada", "tok2"))

	m, ok := rec.Last(notify.TemplateVerification)
	require.True(t, ok)
	assert.Equal(t, "tok1", m.Token)
	m, ok = rec.Last(notify.TemplatePasswordReset)
	require.True(t, ok)
	assert.Equal(t, "tok2", m.Token)
}

func TestLogMailer_HidesTokenAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	require.NoError(t, notify.LogMailer{Log: log}.Send(context.Background(), notify.Message{
		Template: notify.TemplateVerification, To: "a@example.com", Token: "secret-token",
	}))
	assert.Contains(t, buf.String(), "email dispatched")
	assert.NotContains(t, buf.String(), "secret-token")
}
