// Package pair handles trading pair symbol parsing, validation and the
// conversions between the canonical form and exchange stream symbols.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Supported quote assets, longest first so suffix matching is unambiguous.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"}

// symbolRegex matches: {BASE}{sep}{QUOTE} where sep is optional.
// Examples: BTC/USDT, eth-usdt, SOLUSDT
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]{2,10}?)[/\-_]?([A-Z]{3,5})$`)

var (
	ErrInvalidPair      = errors.New("pair: invalid pair symbol")
	ErrUnsupportedQuote = errors.New("pair: unsupported quote asset")
	ErrNotListed        = errors.New("pair: pair is not listed")
)

// Pair is a parsed trading pair.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Parse parses and normalises a pair symbol into BASE/QUOTE form.
func Parse(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return Pair{}, fmt.Errorf("%w: empty symbol", ErrInvalidPair)
	}

	if i := strings.IndexAny(s, "/-_"); i >= 0 {
		if !symbolRegex.MatchString(s) {
			return Pair{}, fmt.Errorf("%w: %s (expected BASE/QUOTE)", ErrInvalidPair, symbol)
		}
		base, quote := s[:i], s[i+1:]
		if !isQuote(quote) {
			return Pair{}, fmt.Errorf("%w: %s", ErrUnsupportedQuote, quote)
		}
		if base == quote {
			return Pair{}, fmt.Errorf("%w: %s", ErrInvalidPair, symbol)
		}
		return Pair{Base: base, Quote: quote}, nil
	}

	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			base := s[:len(s)-len(q)]
			if base == q || !symbolRegex.MatchString(base+"/"+q) {
				break
			}
			return Pair{Base: base, Quote: q}, nil
		}
	}
	return Pair{}, fmt.Errorf("%w: %s", ErrInvalidPair, symbol)
}

// String returns the canonical BASE/QUOTE form stored on trades.
func (p Pair) String() string { return p.Base + "/" + p.Quote }

// ExchangeSymbol returns the upper-case exchange symbol, e.g. BTCUSDT.
func (p Pair) ExchangeSymbol() string { return p.Base + p.Quote }

// StreamName returns the lower-case ticker stream name, e.g. btcusdt@ticker.
func (p Pair) StreamName() string { return strings.ToLower(p.ExchangeSymbol()) + "@ticker" }

func isQuote(q string) bool {
	for _, a := range quoteAssets {
		if a == q {
			return true
		}
	}
	return false
}

// Set is the list of pairs the platform trades.
type Set struct {
	byCanonical map[string]Pair
	byExchange  map[string]Pair
}

// NewSet parses every symbol; the first invalid one is returned as an error.
func NewSet(symbols []string) (*Set, error) {
	s := &Set{
		byCanonical: make(map[string]Pair, len(symbols)),
		byExchange:  make(map[string]Pair, len(symbols)),
	}
	for _, sym := range symbols {
		p, err := Parse(sym)
		if err != nil {
			return nil, err
		}
		s.byCanonical[p.String()] = p
		s.byExchange[p.ExchangeSymbol()] = p
	}
	return s, nil
}

// Lookup parses symbol and checks it is listed.
func (s *Set) Lookup(symbol string) (Pair, error) {
	p, err := Parse(symbol)
	if err != nil {
		return Pair{}, err
	}
	if _, ok := s.byCanonical[p.String()]; !ok {
		return Pair{}, fmt.Errorf("%w: %s", ErrNotListed, p)
	}
	return p, nil
}

// FromExchange maps an exchange symbol (BTCUSDT) back to a listed pair.
func (s *Set) FromExchange(symbol string) (Pair, bool) {
	p, ok := s.byExchange[strings.ToUpper(symbol)]
	return p, ok
}

// Pairs returns the listed pairs in canonical order.
func (s *Set) Pairs() []Pair {
	out := make([]Pair, 0, len(s.byCanonical))
	for _, p := range s.byCanonical {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
