package pricefeed

import (
	"net/http"

	"github.com/pawanbishnoiii/vk1-sub001/internal/httputil"
)

// PricesResponse is the body of GET /api/v1/prices.
type PricesResponse struct {
	State   State    `json:"state"`
	Tickers []Ticker `json:"tickers"`
}

// HandlePrices handles GET /api/v1/prices.
func (f *Feed) HandlePrices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, PricesResponse{
		State:   f.State(),
		Tickers: f.Snapshot(),
	})
}
