// Package pricefeed maintains a live snapshot of 24h tickers for the listed
// pairs. It seeds from a REST snapshot, follows a combined WebSocket stream,
// reconnects with bounded exponential backoff and, once the reconnect budget
// is spent, falls back to REST polling until the circuit cools down.
package pricefeed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
	"github.com/pawanbishnoiii/vk1-sub001/internal/pair"
)

// State is the connection state of the feed.
type State string

const (
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StatePolling      State = "polling"
	StateStopped      State = "stopped"
)

var allStates = []string{
	string(StateConnecting), string(StateStreaming), string(StateReconnecting),
	string(StatePolling), string(StateStopped),
}

var errCircuitOpen = errors.New("pricefeed: reconnect attempts exhausted")

// Ticker is the live view of one pair.
type Ticker struct {
	Symbol     string          `json:"symbol"` // canonical BASE/QUOTE
	Price      decimal.Decimal `json:"price"`
	Change24h  decimal.Decimal `json:"change24h"` // percent
	High24h    decimal.Decimal `json:"high24h"`
	Low24h     decimal.Decimal `json:"low24h"`
	Volume24h  decimal.Decimal `json:"volume24h"`
	LastUpdate time.Time       `json:"lastUpdate"`
}

// Options configures endpoints and the reconnect policy.
type Options struct {
	RESTURL         string
	StreamURL       string
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	MaxAttempts     int
	PollInterval    time.Duration
	CircuitCooldown time.Duration
	ReadTimeout     time.Duration // stream silence that counts as a drop

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Feed owns the ticker snapshot. Safe for concurrent readers.
type Feed struct {
	opts   Options
	pairs  *pair.Set
	rest   *RESTClient
	dialer *websocket.Dialer
	onTick func(Ticker)

	mu     sync.RWMutex
	prices map[string]Ticker
	state  State
}

// New creates a feed for the listed pairs. onTick, if non-nil, is called for
// every applied update.
func New(pairs *pair.Set, opts Options, onTick func(Ticker)) *Feed {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Minute
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Feed{
		opts:   opts,
		pairs:  pairs,
		rest:   NewRESTClient(opts.RESTURL, opts.HTTPClient),
		dialer: dialer,
		onTick: onTick,
		prices: make(map[string]Ticker),
		state:  StateStopped,
	}
}

// Run drives the feed until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	defer f.setState(StateStopped)

	f.setState(StateConnecting)
	if err := f.refresh(ctx); err != nil {
		slog.Warn("initial price snapshot failed", "err", err)
	}

	for {
		err := f.streamWithRetry(ctx)
		if ctx.Err() != nil {
			return
		}

		slog.Warn("price stream circuit open, polling REST",
			"err", err,
			"cooldown", f.opts.CircuitCooldown.String(),
		)
		f.poll(ctx, f.opts.CircuitCooldown)
		if ctx.Err() != nil {
			return
		}
		f.setState(StateConnecting)
	}
}

// streamWithRetry keeps the stream up. Consecutive failures are spaced by
// the backoff; a connection that delivered data resets it. Returns
// errCircuitOpen once MaxAttempts consecutive reconnects have failed.
func (f *Feed) streamWithRetry(ctx context.Context) error {
	bo := newBackOff(f.opts)
	for {
		healthy, err := f.streamOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if healthy {
			bo.Reset()
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return errCircuitOpen
		}

		f.setState(StateReconnecting)
		metrics.FeedReconnects.Inc()
		slog.Warn("price stream dropped, reconnecting", "err", err, "delay", next.String())

		if !sleep(ctx, next) {
			return ctx.Err()
		}
	}
}

// streamOnce dials the combined stream and applies ticks until the
// connection fails. healthy reports whether at least one tick arrived.
func (f *Feed) streamOnce(ctx context.Context) (healthy bool, err error) {
	u := streamURL(f.opts.StreamURL, f.pairs.Pairs())
	conn, _, err := f.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	f.setState(StateStreaming)
	slog.Info("price stream connected", "url", u)

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return healthy, err
		}

		ev, ok, err := parseTickerMessage(msg)
		if err != nil {
			slog.Debug("price stream parse error", "err", err)
			continue
		}
		if !ok {
			continue
		}
		if f.applyEvent(ev) {
			healthy = true
		}
	}
}

// poll refreshes from REST every PollInterval for the given duration.
func (f *Feed) poll(ctx context.Context, d time.Duration) {
	f.setState(StatePolling)
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	if err := f.refresh(ctx); err != nil {
		slog.Warn("price poll failed", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if err := f.refresh(ctx); err != nil {
				slog.Warn("price poll failed", "err", err)
			}
		}
	}
}

// refresh pulls the REST snapshot for every listed pair.
func (f *Feed) refresh(ctx context.Context) error {
	listed := f.pairs.Pairs()
	symbols := make([]string, len(listed))
	for i, p := range listed {
		symbols[i] = p.ExchangeSymbol()
	}

	tickers, err := f.rest.Tickers(ctx, symbols)
	if err != nil {
		return err
	}
	for _, t := range tickers {
		p, ok := f.pairs.FromExchange(t.Symbol)
		if !ok {
			continue
		}
		ts := time.UnixMilli(t.CloseTime).UTC()
		if t.CloseTime == 0 {
			ts = time.Now().UTC()
		}
		f.apply(Ticker{
			Symbol:     p.String(),
			Price:      t.LastPrice,
			Change24h:  t.PriceChangePercent,
			High24h:    t.HighPrice,
			Low24h:     t.LowPrice,
			Volume24h:  t.Volume,
			LastUpdate: ts,
		}, "rest")
	}
	return nil
}

func (f *Feed) applyEvent(ev tickerEvent) bool {
	p, ok := f.pairs.FromExchange(ev.Symbol)
	if !ok {
		return false
	}
	ts := time.UnixMilli(ev.EventTime).UTC()
	if ev.EventTime == 0 {
		ts = time.Now().UTC()
	}
	f.apply(Ticker{
		Symbol:     p.String(),
		Price:      ev.Close,
		Change24h:  ev.ChangePct,
		High24h:    ev.High,
		Low24h:     ev.Low,
		Volume24h:  ev.BaseVolume,
		LastUpdate: ts,
	}, "stream")
	return true
}

// apply replaces the entry for one symbol; the others keep their values.
func (f *Feed) apply(t Ticker, source string) {
	f.mu.Lock()
	f.prices[t.Symbol] = t
	f.mu.Unlock()

	metrics.FeedTicks.WithLabelValues(source).Inc()
	if f.onTick != nil {
		f.onTick(t)
	}
}

// Price returns the last price of a canonical pair.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.prices[symbol]
	if !ok || !t.Price.IsPositive() {
		return decimal.Zero, false
	}
	return t.Price, true
}

// Snapshot returns all known tickers sorted by symbol.
func (f *Feed) Snapshot() []Ticker {
	f.mu.RLock()
	out := make([]Ticker, 0, len(f.prices))
	for _, t := range f.prices {
		out = append(out, t)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// State returns the current connection state.
func (f *Feed) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	changed := f.state != s
	f.state = s
	f.mu.Unlock()

	if changed {
		metrics.SetFeedState(string(s), allStates)
		slog.Debug("price feed state", "state", string(s))
	}
}

// cappedBackOff clamps a jittered interval to max so the cap holds even
// after randomization.
type cappedBackOff struct {
	backoff.BackOff
	max time.Duration
}

func (c cappedBackOff) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d != backoff.Stop && d > c.max {
		return c.max
	}
	return d
}

// newBackOff builds the reconnect policy: InitialDelay doubling up to
// MaxDelay with 20% jitter, stopping after MaxAttempts.
func newBackOff(opts Options) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.InitialDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxInterval = opts.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithMaxRetries(cappedBackOff{BackOff: eb, max: opts.MaxDelay}, uint64(opts.MaxAttempts))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
