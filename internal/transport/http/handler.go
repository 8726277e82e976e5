package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/application"
	"setorin.id/notifclient/internal/domain"
	"setorin.id/notifclient/internal/messages"
)

// NotificationService is what the companion surface drives.
// Implementation lives in application.Binding.
type NotificationService interface {
	Snapshot() domain.Snapshot
	Refresh(ctx context.Context) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Settings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, patch domain.Settings) (domain.Settings, error)
}

// Handler holds all HTTP handler methods.
type Handler struct {
	svc NotificationService
	hub *Hub
}

// NewHandler creates a new Handler.
func NewHandler(svc NotificationService, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// snapshotView is the JSON shape served to local UIs.
type snapshotView struct {
	domain.Snapshot
	ErrorText     string `json:"error_text,omitempty"`
	UnreadSummary string `json:"unread_summary"`
}

func newSnapshotView(s domain.Snapshot, filter domain.ListFilter) snapshotView {
	items := make([]domain.Notification, 0, len(s.Items))
	for _, n := range s.Items {
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		if filter.Limit > 0 && len(items) == filter.Limit {
			break
		}
		items = append(items, n)
	}
	s.Items = items
	return snapshotView{
		Snapshot:      s,
		ErrorText:     messages.ErrorText(s.Error),
		UnreadSummary: messages.UnreadSummary(s.UnreadCount),
	}
}

// --- REST Handlers ---

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	filter := domain.ListFilter{
		Limit:      parseIntQuery(c, "limit", 0),
		UnreadOnly: c.QueryParam("unread_only") == "true",
	}
	return c.JSON(http.StatusOK, newSnapshotView(h.svc.Snapshot(), filter))
}

// Refresh POST /notifications/refresh
func (h *Handler) Refresh(c echo.Context) error {
	if err := h.svc.Refresh(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return h.current(c)
}

// MarkRead PATCH /notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	if err := h.svc.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return h.current(c)
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	if err := h.svc.MarkAllRead(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return h.current(c)
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return h.current(c)
}

// GetSettings GET /settings
func (h *Handler) GetSettings(c echo.Context) error {
	settings, err := h.svc.Settings(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

// UpdateSettings PATCH /settings
func (h *Handler) UpdateSettings(c echo.Context) error {
	var patch domain.Settings
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid settings body")
	}
	settings, err := h.svc.UpdateSettings(c.Request().Context(), patch)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

// --- SSE Handler ---

// Stream GET /notifications/stream (SSE)
func (h *Handler) Stream(c echo.Context) error {
	// SSE headers
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Register client
	sendCh := make(chan []byte, 32)
	client := h.hub.Register(sendCh)
	defer h.hub.Unregister(client)

	// Start with the current state so the client never waits for a change.
	if _, err := w.Write(buildSSEMessage("snapshot", newSnapshotView(h.svc.Snapshot(), domain.ListFilter{}))); err != nil {
		return nil
	}
	w.Flush()

	log.Info().Msg("SSE stream opened")

	ctx := c.Request().Context()
	for {
		select {
		case msg, ok := <-sendCh:
			if !ok {
				return nil
			}
			if _, err := w.Write(msg); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			log.Info().Msg("SSE stream closed by client")
			return nil
		}
	}
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	snap := h.svc.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"gateway":     snap.Status,
		"sse_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

func (h *Handler) current(c echo.Context) error {
	return c.JSON(http.StatusOK, newSnapshotView(h.svc.Snapshot(), domain.ListFilter{}))
}

// toHTTPError maps typed store and session errors onto status codes.
func toHTTPError(err error) error {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch {
	case kind == domain.KindUnauthenticated, kind == domain.KindAuthInvalid:
		status = http.StatusUnauthorized
	case kind == domain.KindMutationFailed, kind == domain.KindServerError:
		status = http.StatusBadGateway
	case kind == domain.KindNetworkUnavailable, errors.Is(err, application.ErrClosed):
		status = http.StatusServiceUnavailable
	case kind == domain.KindNotFound:
		status = http.StatusNotFound
	case errors.Is(err, application.ErrSessionChanged):
		status = http.StatusConflict
	}

	msg := messages.ErrorText(kind)
	if msg == "" {
		msg = messages.UnknownErrorText
	}
	log.Debug().Err(err).Int("status", status).Msg("request failed")
	return echo.NewHTTPError(status, map[string]any{
		"error":   kind,
		"message": msg,
	})
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
