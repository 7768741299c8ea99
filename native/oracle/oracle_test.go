package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestManualFeedNormalizesHandles(t *testing.T) {
	feed := NewManualFeed()
	if err := feed.Post("  wti ", big.NewInt(75), 100); err != nil {
		t.Fatalf("post: %v", err)
	}
	quote, err := feed.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if quote.Price.Int64() != 75 || quote.UpdatedAt != 100 || !quote.Valid {
		t.Fatalf("quote = %+v", quote)
	}
	if _, err := feed.Read("BRENT"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("read unknown = %v, want ErrUnknownHandle", err)
	}
	if _, err := feed.Read("  "); err == nil {
		t.Fatalf("expected error for blank handle")
	}
}

func TestManualFeedStampsPostsWithClock(t *testing.T) {
	feed := NewManualFeed()
	feed.SetNowFunc(func() int64 { return 4_200 })
	if err := feed.Post("NG", big.NewInt(3), 0); err != nil {
		t.Fatalf("post: %v", err)
	}
	quote, err := feed.Read("NG")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if quote.UpdatedAt != 4_200 {
		t.Fatalf("UpdatedAt = %d, want the feed clock", quote.UpdatedAt)
	}
}

func TestManualFeedMarksNonPositivePricesInvalid(t *testing.T) {
	feed := NewManualFeed()
	if err := feed.Post("WTI", big.NewInt(0), 100); err != nil {
		t.Fatalf("post: %v", err)
	}
	quote, err := feed.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if quote.Valid {
		t.Fatalf("zero price quote marked valid")
	}
	if err := feed.Post("WTI", nil, 100); err == nil {
		t.Fatalf("expected error for nil price")
	}
}

func TestManualFeedReturnsCopies(t *testing.T) {
	feed := NewManualFeed()
	if err := feed.Post("WTI", big.NewInt(75), 100); err != nil {
		t.Fatalf("post: %v", err)
	}
	quote, err := feed.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	quote.Price.SetInt64(1)
	again, err := feed.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if again.Price.Int64() != 75 {
		t.Fatalf("stored quote mutated through the returned copy")
	}
}

func TestAggregatorHonorsPriorityOrder(t *testing.T) {
	primary := NewManualFeed()
	secondary := NewManualFeed()
	agg := NewAggregator(0)
	if err := agg.Register("primary", primary); err != nil {
		t.Fatalf("register primary: %v", err)
	}
	if err := agg.Register("secondary", secondary); err != nil {
		t.Fatalf("register secondary: %v", err)
	}
	if err := primary.Post("WTI", big.NewInt(70), 100); err != nil {
		t.Fatalf("post primary: %v", err)
	}
	if err := secondary.Post("WTI", big.NewInt(80), 200); err != nil {
		t.Fatalf("post secondary: %v", err)
	}
	quote, err := agg.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if quote.Price.Int64() != 70 {
		t.Fatalf("price = %s, want the primary feed's 70", quote.Price)
	}
}

func TestAggregatorFallsThroughStaleQuotes(t *testing.T) {
	primary := NewManualFeed()
	secondary := NewManualFeed()
	agg := NewAggregator(time.Hour)
	now := time.Unix(10_000, 0)
	agg.SetNowFunc(func() time.Time { return now })
	if err := agg.Register("primary", primary); err != nil {
		t.Fatalf("register primary: %v", err)
	}
	if err := agg.Register("secondary", secondary); err != nil {
		t.Fatalf("register secondary: %v", err)
	}
	// The primary observation is older than the freshness window, the
	// secondary one is inside it.
	if err := primary.Post("WTI", big.NewInt(70), 5_000); err != nil {
		t.Fatalf("post primary: %v", err)
	}
	if err := secondary.Post("WTI", big.NewInt(80), 9_000); err != nil {
		t.Fatalf("post secondary: %v", err)
	}
	quote, err := agg.Read("WTI")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if quote.Price.Int64() != 80 {
		t.Fatalf("price = %s, want the fresh secondary quote", quote.Price)
	}
}

func TestAggregatorReportsNoFreshQuote(t *testing.T) {
	feed := NewManualFeed()
	agg := NewAggregator(time.Hour)
	agg.SetNowFunc(func() time.Time { return time.Unix(10_000, 0) })
	if err := agg.Register("manual", feed); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := feed.Post("WTI", big.NewInt(70), 100); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := agg.Read("WTI"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("read stale = %v, want ErrNoFreshQuote", err)
	}
}

func TestAggregatorSurfacesFeedErrors(t *testing.T) {
	agg := NewAggregator(0)
	if err := agg.Register("manual", NewManualFeed()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := agg.Read("WTI"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("read = %v, want ErrUnknownHandle", err)
	}
}
