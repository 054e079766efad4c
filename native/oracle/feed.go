package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownAsset indicates the feed has never quoted the symbol.
	ErrUnknownAsset = errors.New("oracle: unknown asset")
	// ErrStalePrice indicates the latest quote is older than the freshness
	// window.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrInvalidPrice rejects non-positive quotes.
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// Quote is an 18-decimal USD price observed at a point in time.
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// StaticFeed serves operator-supplied prices. Quotes older than MaxAge are
// refused once a freshness window is configured.
type StaticFeed struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]Quote
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewStaticFeed constructs an empty feed identified by name.
func NewStaticFeed(name string) *StaticFeed {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "static"
	}
	return &StaticFeed{
		name:   name,
		quotes: make(map[string]Quote),
		nowFn:  time.Now,
	}
}

// Name reports the identifier surfaced in oracle change events.
func (f *StaticFeed) Name() string {
	if f == nil {
		return ""
	}
	return f.name
}

// SetMaxAge updates the freshness window. Zero disables staleness checks.
func (f *StaticFeed) SetMaxAge(maxAge time.Duration) {
	if f == nil {
		return
	}
	if maxAge < 0 {
		maxAge = 0
	}
	f.mu.Lock()
	f.maxAge = maxAge
	f.mu.Unlock()
}

// SetNowFunc overrides the clock used for staleness checks.
func (f *StaticFeed) SetNowFunc(now func() time.Time) {
	if f == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	f.mu.Lock()
	f.nowFn = now
	f.mu.Unlock()
}

// Set records a price for symbol observed now.
func (f *StaticFeed) Set(symbol string, price *big.Int) error {
	f.mu.RLock()
	now := f.nowFn()
	f.mu.RUnlock()
	return f.SetAt(symbol, price, now)
}

// SetAt records a price for symbol observed at ts.
func (f *StaticFeed) SetAt(symbol string, price *big.Int, ts time.Time) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not initialised")
	}
	key := normalizeSymbol(symbol)
	if key == "" {
		return fmt.Errorf("%w: empty symbol", ErrUnknownAsset)
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, key)
	}
	f.mu.Lock()
	f.quotes[key] = Quote{Price: new(big.Int).Set(price), UpdatedAt: ts}
	f.mu.Unlock()
	return nil
}

// Price implements the lending engine's oracle interface.
func (f *StaticFeed) Price(ctx context.Context, symbol string) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quote, err := f.Quote(symbol)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// Quote returns the latest quote for symbol after the freshness check.
func (f *StaticFeed) Quote(symbol string) (Quote, error) {
	if f == nil {
		return Quote{}, fmt.Errorf("oracle: feed not initialised")
	}
	key := normalizeSymbol(symbol)
	f.mu.RLock()
	quote, ok := f.quotes[key]
	maxAge := f.maxAge
	now := f.nowFn()
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownAsset, key)
	}
	if maxAge > 0 && now.Sub(quote.UpdatedAt) > maxAge {
		return Quote{}, fmt.Errorf("%w: %s updated %s", ErrStalePrice, key, quote.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return quote.Clone(), nil
}

// Symbols lists the quoted symbols in lexical order.
func (f *StaticFeed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.quotes))
	for symbol := range f.quotes {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
