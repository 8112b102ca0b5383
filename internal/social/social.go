// Package social serves the community channel links shown in the app.
package social

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
)

// Lister reads social channels, visible only or all.
type Lister interface {
	ListSocialChannels(ctx context.Context, visibleOnly bool) ([]model.SocialChannel, error)
}

// Handler serves GET /social-channels.
type Handler struct {
	store Lister
}

func NewHandler(st Lister) *Handler {
	return &Handler{store: st}
}

// Visible returns the visible channels in display order.
func (h *Handler) Visible(ctx context.Context) ([]model.SocialChannel, error) {
	channels, err := h.store.ListSocialChannels(ctx, true)
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []model.SocialChannel{}
	}
	return channels, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channels, err := h.Visible(r.Context())
	if err != nil {
		slog.Error("list social channels", "err", err)
		httputil.WriteError(w, "failed to list social channels", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, channels)
}
