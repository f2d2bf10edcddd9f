package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// SolanaGateway reads payments through the Solana JSON-RPC API. Finalized
// commitment confirms; confirmed commitment is pending.
type SolanaGateway struct {
	endpoint string
	client   doer
}

// NewSolanaGateway builds the adapter.
func NewSolanaGateway(endpoint string, client *http.Client) *SolanaGateway {
	var inner doer
	if client != nil {
		inner = client
	}
	return &SolanaGateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newLimitedClient(inner, 10),
	}
}

// Endpoint reports the configured RPC URL.
func (g *SolanaGateway) Endpoint() string { return g.endpoint }

type solanaRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type solanaTransactionResult struct {
	Slot        uint64 `json:"slot"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *struct {
		Err          interface{} `json:"err"`
		PreBalances  []uint64    `json:"preBalances"`
		PostBalances []uint64    `json:"postBalances"`
	} `json:"meta"`
}

func (g *SolanaGateway) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(solanaRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("solana rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana rpc %s: http %d", method, resp.StatusCode)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("solana rpc %s: decode: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("solana rpc %s: %d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("solana rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// GetTransaction derives the paid lamports from the recipient account's
// balance delta: postBalances[1] - preBalances[1].
func (g *SolanaGateway) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	if len(base58.Decode(txID)) == 0 {
		return nil, fmt.Errorf("%w: malformed signature %q", ErrTransactionNotFound, txID)
	}
	var result *solanaTransactionResult
	err := g.call(ctx, "getTransaction", []interface{}{
		txID,
		map[string]interface{}{"commitment": "confirmed", "maxSupportedTransactionVersion": 0},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrTransactionNotFound
	}
	if result.Meta == nil || result.Meta.Err != nil {
		return nil, ErrTransactionNotMined
	}
	keys := result.Transaction.Message.AccountKeys
	if len(keys) < 2 || len(result.Meta.PreBalances) < 2 || len(result.Meta.PostBalances) < 2 {
		return nil, ErrNotAPayment
	}
	quantity := new(big.Int).Sub(
		new(big.Int).SetUint64(result.Meta.PostBalances[1]),
		new(big.Int).SetUint64(result.Meta.PreBalances[1]),
	)
	if quantity.Sign() <= 0 {
		return nil, ErrNotAPayment
	}
	return &TransactionInfo{
		Quantity:         quantity,
		SenderAddress:    keys[0],
		RecipientAddress: keys[1],
	}, nil
}

// GetTransactionStatus maps commitment levels onto the tri-state.
func (g *SolanaGateway) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	var result struct {
		Value []*struct {
			Slot               uint64  `json:"slot"`
			ConfirmationStatus string  `json:"confirmationStatus"`
			Err                interface{} `json:"err"`
		} `json:"value"`
	}
	err := g.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{txID},
		map[string]interface{}{"searchTransactionHistory": true},
	}, &result)
	if err != nil {
		return TransactionStatus{}, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return TransactionStatus{State: StatusNotFound}, nil
	}
	status := result.Value[0]
	if status.Err != nil {
		return TransactionStatus{State: StatusNotFound}, nil
	}
	if status.ConfirmationStatus == "finalized" {
		return TransactionStatus{State: StatusConfirmed, BlockHeight: int64(status.Slot)}, nil
	}
	return TransactionStatus{State: StatusPending}, nil
}
