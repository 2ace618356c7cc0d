package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"polyarb/internal/domain"
)

// quoteTTL keeps stale quotes from outliving a dead feed.
const quoteTTL = 1 * time.Minute

// PriceCache implements domain.PriceMirror using Redis hashes. Each market's
// combined quote lives at "quote:{marketID}" for external monitoring; the
// bot itself never reads it back.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// PublishQuote writes the pair's top of book. Errors are returned for the
// caller to log; they never carry trading significance.
func (pc *PriceCache) PublishQuote(ctx context.Context, q domain.PairQuote) error {
	key := quoteKey(q.MarketID)
	fields := map[string]interface{}{
		"yes_bid":      formatPrice(q.Yes.BestBid.Price),
		"yes_ask":      formatPrice(q.Yes.BestAsk.Price),
		"yes_mid":      formatPrice(q.Yes.Mid()),
		"no_bid":       formatPrice(q.No.BestBid.Price),
		"no_ask":       formatPrice(q.No.BestAsk.Price),
		"no_mid":       formatPrice(q.No.Mid()),
		"combined_ask": formatPrice(q.CombinedAsk),
		"combined_bid": formatPrice(q.CombinedBid),
		"ts":           strconv.FormatInt(q.AsOf.UnixMilli(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish quote %s: %w", q.MarketID, err)
	}
	return nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// Compile-time interface check.
var _ domain.PriceMirror = (*PriceCache)(nil)
