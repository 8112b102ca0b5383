package bonus

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/auth"
	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
	"github.com/pawanbishnoiii/vk1-sub001/internal/model"
	"github.com/pawanbishnoiii/vk1-sub001/internal/store"
)

// ClaimRequest is the JSON body for POST /bonuses/claim.
type ClaimRequest struct {
	OfferID   string `json:"offerId"`
	DepositID string `json:"depositId,omitempty"`
}

// ClaimResponse mirrors the atomic claim result.
type ClaimResponse struct {
	Success    bool            `json:"success"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Bonus      model.UserBonus `json:"bonus"`
}

// Handler exposes the bonus service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the bonus HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the user-facing bonus endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/offers", h.ListOffers)
	r.Get("/bonuses", h.ListBonuses)
	r.Post("/bonuses/claim", h.Claim)
	r.Get("/deposits", h.ListDeposits)
	r.Post("/bonuses/{bonusID}/animation-shown", h.AnimationShown)
	r.Post("/bonuses/{bonusID}/cancel", h.CancelOwn)
	r.Get("/spins/{offerID}/status", h.SpinStatus)
	r.Post("/spins/{offerID}", h.Spin)
}

// ListOffers handles GET /offers. ?all=true includes inactive offers.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	offers, err := h.svc.Offers(r.Context(), activeOnly)
	if err != nil {
		httputil.WriteError(w, "failed to list offers", http.StatusInternalServerError)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	if t := r.URL.Query().Get("type"); t != "" {
		offers = OffersByType(offers, t)
	}
	httputil.WriteJSON(w, http.StatusOK, offers)
}

// ListBonuses handles GET /bonuses.
func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	bonuses, err := h.svc.UserBonuses(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, "failed to list bonuses", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bonuses)
}

// ListDeposits handles GET /deposits. Unclaimed deposits can back a claim.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	deps, err := h.svc.Deposits(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, "failed to list deposits", http.StatusInternalServerError)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, deps)
}

// Claim handles POST /bonuses/claim.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req ClaimRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Claim(r.Context(), userID, req.OfferID, req.DepositID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ClaimResponse{
		Success:    true,
		Amount:     res.Amount,
		NewBalance: res.NewBalance,
		Bonus:      res.UserBonus,
	})
}

// AnimationShown handles POST /bonuses/{bonusID}/animation-shown.
func (h *Handler) AnimationShown(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if err := h.svc.MarkAnimationShown(r.Context(), userID, chi.URLParam(r, "bonusID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelOwn handles POST /bonuses/{bonusID}/cancel.
func (h *Handler) CancelOwn(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if err := h.svc.CancelOwn(r.Context(), userID, chi.URLParam(r, "bonusID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SpinStatus handles GET /spins/{offerID}/status.
func (h *Handler) SpinStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	st, err := h.svc.SpinStatus(r.Context(), userID, chi.URLParam(r, "offerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// Spin handles POST /spins/{offerID}. The request carries no prize.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	res, err := h.svc.Spin(r.Context(), userID, chi.URLParam(r, "offerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// StatusFor maps bonus and store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrOfferNotFound), errors.Is(err, ErrBonusNotFound),
		errors.Is(err, ErrDepositNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDepositRequired), errors.Is(err, ErrDepositNotUsable), errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrNothingToClaim), errors.Is(err, ErrNotSpinOffer), errors.Is(err, ErrIsSpinOffer):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyClaimed), errors.Is(err, store.ErrDepositClaimed), errors.Is(err, ErrNotFirstDeposit),
		errors.Is(err, store.ErrSpinCooldown), errors.Is(err, store.ErrOfferUnavailable), errors.Is(err, ErrNoPrizes):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("bonus request failed", "err", err)
	}
	httputil.WriteError(w, err.Error(), status)
}
