// Package token talks to the blockchains that fund the ledger. Each chain
// gets one adapter implementing Gateway; adapters are plain values in a map
// keyed by token type, and every status collapses to the confirmed, pending
// or not-found tri-state.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Token types the ledger accepts payments in.
const (
	TypeArweave  = "arweave"
	TypeEthereum = "ethereum"
	TypeBaseEth  = "base-eth"
	TypeSolana   = "solana"
	TypeKyve     = "kyve"
	TypeARIO     = "ario"
)

// Gateway errors. Not-a-payment and not-mined surface immediately; not-found
// is retried by the poller until attempts run out.
var (
	ErrTransactionNotFound = errors.New("payment transaction not found")
	ErrTransactionNotMined = errors.New("payment transaction not mined")
	ErrNotAPayment         = errors.New("transaction is not a payment transaction")
)

// TransactionInfo describes a payment observed on chain. Quantity is in the
// chain's base units.
type TransactionInfo struct {
	Quantity         *big.Int
	SenderAddress    string
	RecipientAddress string
}

// StatusState is the clamped tri-state every adapter reports.
type StatusState int

const (
	// StatusNotFound means the chain does not know the transaction.
	StatusNotFound StatusState = iota
	// StatusPending means the transaction exists below its confirmation
	// threshold.
	StatusPending
	// StatusConfirmed means the threshold was met.
	StatusConfirmed
)

func (s StatusState) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	default:
		return "not_found"
	}
}

// TransactionStatus carries the tri-state and, when confirmed, the block
// height.
type TransactionStatus struct {
	State       StatusState
	BlockHeight int64
}

// Gateway is the per-chain capability surface the credit pipeline needs.
type Gateway interface {
	GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error)
	GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error)
	Endpoint() string
}

// Map holds one gateway per token type.
type Map map[string]Gateway

// Gateway returns the adapter for the token type.
func (m Map) Gateway(tokenType string) (Gateway, error) {
	gw, ok := m[strings.ToLower(strings.TrimSpace(tokenType))]
	if !ok {
		return nil, fmt.Errorf("no gateway configured for token type %q", tokenType)
	}
	return gw, nil
}

// doer issues HTTP requests. Satisfied by *http.Client and by test stubs.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// limitedClient throttles outbound requests to one gateway endpoint.
type limitedClient struct {
	inner   doer
	limiter *rate.Limiter
}

func newLimitedClient(inner doer, rps float64) *limitedClient {
	if inner == nil {
		inner = &http.Client{Timeout: 15 * time.Second}
	}
	if rps <= 0 {
		rps = 10
	}
	return &limitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

func (c *limitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.inner.Do(req)
}
