package ws_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/transport/ws"
)

func TestDecodeFrame(t *testing.T) {
	t.Run("notification", func(t *testing.T) {
		f, err := ws.DecodeFrame([]byte(`{"type":"notification","data":{"id":"n1","type":"achievement","title":"Lencana","message":"Baru","priority":3,"is_read":false,"created_at":"2025-03-01 10:00:00","action_url":"/badges"}}`))
		require.NoError(t, err)
		require.NotNil(t, f.Notification)
		assert.Equal(t, "n1", f.Notification.ID)
		assert.Equal(t, domain.TypeAchievement, f.Notification.Type)
		assert.Equal(t, domain.PriorityHigh, f.Notification.Priority)
		assert.Equal(t, "/badges", f.Notification.ActionURL)
		assert.Equal(t, 2025, f.Notification.CreatedAt.Year())
	})

	t.Run("connection status", func(t *testing.T) {
		f, err := ws.DecodeFrame([]byte(`{"type":"connection_status","status":"connected"}`))
		require.NoError(t, err)
		assert.Equal(t, ws.FrameConnectionStatus, f.Type)
		assert.Equal(t, "connected", f.Status)
		assert.Nil(t, f.Notification)
	})

	t.Run("error frame", func(t *testing.T) {
		f, err := ws.DecodeFrame([]byte(`{"type":"error","message":"nope"}`))
		require.NoError(t, err)
		assert.Equal(t, "nope", f.Message)
	})

	t.Run("unknown type decodes", func(t *testing.T) {
		f, err := ws.DecodeFrame([]byte(`{"type":"whatever","data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, "whatever", f.Type)
	})

	for name, raw := range map[string]string{
		"not json":          `{"type":`,
		"missing type":      `{"status":"connected"}`,
		"notification data": `{"type":"notification"}`,
		"bad notification":  `{"type":"broadcast_notification","data":{"title":"no id"}}`,
	} {
		raw := raw
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := ws.DecodeFrame([]byte(raw))
			assert.Error(t, err)
		})
	}
}
