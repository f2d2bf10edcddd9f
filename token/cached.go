package token

import (
	"context"
	"time"

	"turbocredit/cache"
)

// CachedGateway memoizes transaction lookups in front of another gateway.
// Confirmed transaction contents never change, so a bounded TTL cache saves
// repeated chain round trips during polling. Statuses are never cached; they
// move until confirmation.
type CachedGateway struct {
	inner Gateway
	txs   *cache.TTL[string, *TransactionInfo]
}

// NewCachedGateway wraps a gateway with a transaction cache.
func NewCachedGateway(inner Gateway, capacity int, ttl time.Duration) *CachedGateway {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedGateway{
		inner: inner,
		txs:   cache.NewTTL[string, *TransactionInfo](capacity, ttl),
	}
}

// Endpoint reports the wrapped gateway's endpoint.
func (g *CachedGateway) Endpoint() string { return g.inner.Endpoint() }

// GetTransaction serves from cache when possible.
func (g *CachedGateway) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	if info, ok := g.txs.Get(txID); ok {
		return info, nil
	}
	info, err := g.inner.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	g.txs.Put(txID, info)
	return info, nil
}

// GetTransactionStatus always asks the chain.
func (g *CachedGateway) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	return g.inner.GetTransactionStatus(ctx, txID)
}
