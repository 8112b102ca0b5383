package pricefeed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/pair"
)

// streamEnvelope wraps every message of a combined stream.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is the payload of a <symbol>@ticker stream. Keys differing
// only in case ("c"/"C", "p"/"P", "l"/"L") are all declared so the
// case-insensitive fallback of encoding/json cannot cross-assign them.
type tickerEvent struct {
	EventType   string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	PriceChange decimal.Decimal `json:"p"`
	ChangePct   decimal.Decimal `json:"P"`
	Close       decimal.Decimal `json:"c"`
	High        decimal.Decimal `json:"h"`
	Low         decimal.Decimal `json:"l"`
	BaseVolume  decimal.Decimal `json:"v"`
	CloseTime   int64           `json:"C"`
	LastTradeID int64           `json:"L"`
}

// streamURL builds the combined-stream URL for all pairs:
// {base}/stream?streams=btcusdt@ticker/ethusdt@ticker
func streamURL(base string, pairs []pair.Pair) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.StreamName()
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(names, "/")
}

// parseTickerMessage decodes one combined-stream message. Messages from
// other event types yield ok=false.
func parseTickerMessage(msg []byte) (tickerEvent, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return tickerEvent{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 || !strings.HasSuffix(env.Stream, "@ticker") {
		return tickerEvent{}, false, nil
	}

	var ev tickerEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return tickerEvent{}, false, fmt.Errorf("decode ticker: %w", err)
	}
	if ev.Symbol == "" {
		return tickerEvent{}, false, nil
	}
	return ev, true, nil
}
