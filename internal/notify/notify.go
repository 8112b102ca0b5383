// Package notify is the user notification center: listing, unread counts
// and read markers over the notification store.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pawanbishnoiii/vk1-sub001/internal/auth"
	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

var (
	ErrNotFound     = errors.New("notification not found")
	ErrInvalidInput = errors.New("userId, title and message are required")
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

var validTypes = map[string]bool{
	model.NotificationTradeResult: true,
	model.NotificationBonus:       true,
	model.NotificationSystem:      true,
	model.NotificationDeposit:     true,
	model.NotificationWithdrawal:  true,
}

// Service reads and updates one user's notifications.
type Service struct {
	store store.NotificationStore
	Now   func() time.Time
}

// NewService creates a notification service.
func NewService(st store.NotificationStore) *Service {
	return &Service{store: st, Now: func() time.Time { return time.Now().UTC() }}
}

// List returns the newest notifications first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	list, err := s.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Notification{}
	}
	return list, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkAsRead sets is_read on one notification. Repeating it is harmless.
func (s *Service) MarkAsRead(ctx context.Context, userID, id string) error {
	err := s.store.MarkNotificationRead(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// Notify creates a notification. An empty type defaults to system.
func (s *Service) Notify(ctx context.Context, userID, typ, title, message string) (*model.Notification, error) {
	if userID == "" || title == "" || message == "" {
		return nil, ErrInvalidInput
	}
	if typ == "" {
		typ = model.NotificationSystem
	}
	if !validTypes[typ] {
		return nil, fmt.Errorf("unknown notification type %q", typ)
	}

	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: s.Now(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	slog.Info("notification created", "id", n.ID, "user_id", userID, "type", typ)
	return n, nil
}

// --- HTTP ---

// UnreadResponse is the body of GET /notifications/unread-count.
type UnreadResponse struct {
	Count int `json:"count"`
}

// Routes mounts the user notification endpoints.
func (s *Service) Routes(r chi.Router) {
	r.Get("/notifications", s.HandleList)
	r.Get("/notifications/unread-count", s.HandleUnreadCount)
	r.Post("/notifications/read-all", s.HandleMarkAllRead)
	r.Post("/notifications/{notificationID}/read", s.HandleMarkRead)
}

// HandleList handles GET /notifications?limit=N
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	limit := defaultLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, maxLimit)
	}
	list, err := s.List(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

// HandleUnreadCount handles GET /notifications/unread-count
func (s *Service) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	n, err := s.UnreadCount(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, "failed to count notifications", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UnreadResponse{Count: n})
}

// HandleMarkRead handles POST /notifications/{notificationID}/read
func (s *Service) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	err := s.MarkAsRead(r.Context(), userID, chi.URLParam(r, "notificationID"))
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		httputil.WriteError(w, "failed to update notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAllRead handles POST /notifications/read-all
func (s *Service) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	if err := s.MarkAllAsRead(r.Context(), userID); err != nil {
		httputil.WriteError(w, "failed to update notifications", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
