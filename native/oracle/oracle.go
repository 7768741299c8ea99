package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// Quote captures a price observation for a feed handle together with the
// timestamp reported by the upstream source. Consumers decide whether the
// observation is fresh enough for their purpose.
type Quote struct {
	Price     *big.Int
	Valid     bool
	UpdatedAt int64
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Valid: q.Valid, UpdatedAt: q.UpdatedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceFeed resolves the latest observation for the provided feed handle.
type PriceFeed interface {
	Read(handle string) (Quote, error)
}

var (
	// ErrUnknownHandle indicates the feed has no observation for the handle.
	ErrUnknownHandle = errors.New("oracle: unknown feed handle")
	// ErrNoFreshQuote indicates the aggregator could not obtain a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
)

// NormalizeHandle canonicalises a feed handle for map lookups.
func NormalizeHandle(handle string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(handle))
	if trimmed == "" {
		return "", fmt.Errorf("oracle: feed handle required")
	}
	return trimmed, nil
}

// ManualFeed keeps operator-posted quotes in memory. It backs deterministic
// deployments and tests where price updates arrive through the admin surface.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	nowFn  func() int64
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{
		quotes: make(map[string]Quote),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used when posts omit a timestamp.
func (f *ManualFeed) SetNowFunc(now func() int64) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// Post records an observation for the handle. A zero updatedAt stamps the
// observation with the feed clock.
func (f *ManualFeed) Post(handle string, price *big.Int, updatedAt int64) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not initialised")
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}
	if price == nil {
		return fmt.Errorf("oracle: price required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if updatedAt == 0 {
		updatedAt = f.nowFn()
	}
	f.quotes[normalized] = Quote{
		Price:     new(big.Int).Set(price),
		Valid:     price.Sign() > 0,
		UpdatedAt: updatedAt,
	}
	return nil
}

// Read implements the PriceFeed interface.
func (f *ManualFeed) Read(handle string) (Quote, error) {
	if f == nil {
		return Quote{}, fmt.Errorf("oracle: feed not initialised")
	}
	normalized, err := NormalizeHandle(handle)
	if err != nil {
		return Quote{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[normalized]
	if !ok {
		return Quote{}, ErrUnknownHandle
	}
	return quote.Clone(), nil
}

// Handles lists the handles the feed currently serves, sorted for determinism.
func (f *ManualFeed) Handles() []string {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	handles := make([]string, 0, len(f.quotes))
	for handle := range f.quotes {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	return handles
}

// Aggregator consults registered feeds in priority order until one returns a
// quote fresh enough to trust. Feeds registered earlier win ties.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]PriceFeed
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator enforcing the supplied freshness
// window. A zero maxAge disables the freshness check at the aggregator level.
func NewAggregator(maxAge time.Duration) *Aggregator {
	return &Aggregator{
		feeds:  make(map[string]PriceFeed),
		maxAge: maxAge,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the aggregator clock, primarily used in tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if now == nil {
		a.nowFn = time.Now
		return
	}
	a.nowFn = now
}

// Register adds a named feed at the end of the priority order, replacing any
// previous feed registered under the same name.
func (a *Aggregator) Register(name string, feed PriceFeed) error {
	if a == nil {
		return fmt.Errorf("oracle: aggregator not initialised")
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("oracle: feed name required")
	}
	if feed == nil {
		return fmt.Errorf("oracle: feed required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.feeds[trimmed]; !exists {
		a.priority = append(a.priority, trimmed)
	}
	a.feeds[trimmed] = feed
	return nil
}

// Read implements the PriceFeed interface by returning the first fresh quote
// observed across the registered feeds.
func (a *Aggregator) Read(handle string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle: aggregator not initialised")
	}
	a.mu.RLock()
	priority := append([]string(nil), a.priority...)
	feeds := make(map[string]PriceFeed, len(a.feeds))
	for name, feed := range a.feeds {
		feeds[name] = feed
	}
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		feed := feeds[name]
		quote, err := feed.Read(handle)
		if err != nil {
			lastErr = err
			continue
		}
		if !quote.Valid || quote.UpdatedAt == 0 {
			continue
		}
		if maxAge > 0 {
			age := now.Sub(time.Unix(quote.UpdatedAt, 0))
			if age > maxAge {
				continue
			}
		}
		return quote, nil
	}
	if lastErr != nil {
		return Quote{}, lastErr
	}
	return Quote{}, ErrNoFreshQuote
}
