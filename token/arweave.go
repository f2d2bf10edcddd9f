package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
)

// ArweaveGateway reads transaction status from an Arweave node's HTTP API
// and transaction detail from its GraphQL endpoint.
type ArweaveGateway struct {
	endpoint         string
	minConfirmations int64
	client           doer
}

// NewArweaveGateway builds the adapter. minConfirmations defaults to 18.
func NewArweaveGateway(endpoint string, minConfirmations int64, client *http.Client) *ArweaveGateway {
	if minConfirmations <= 0 {
		minConfirmations = 18
	}
	var inner doer
	if client != nil {
		inner = client
	}
	return &ArweaveGateway{
		endpoint:         strings.TrimRight(endpoint, "/"),
		minConfirmations: minConfirmations,
		client:           newLimitedClient(inner, 10),
	}
}

// Endpoint reports the configured node URL.
func (g *ArweaveGateway) Endpoint() string { return g.endpoint }

type arweaveTxStatus struct {
	BlockHeight           int64  `json:"block_height"`
	BlockIndepHash        string `json:"block_indep_hash"`
	NumberOfConfirmations int64  `json:"number_of_confirmations"`
}

// GetTransactionStatus clamps the node's answer to the tri-state. A 404 is
// not-found; an accepted-but-unmined transaction and one below the
// confirmation threshold are both pending.
func (g *ArweaveGateway) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/tx/%s/status", g.endpoint, txID), nil)
	if err != nil {
		return TransactionStatus{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("arweave status: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return TransactionStatus{State: StatusNotFound}, nil
	case http.StatusAccepted:
		return TransactionStatus{State: StatusPending}, nil
	default:
		return TransactionStatus{}, fmt.Errorf("arweave status: unexpected http %d", resp.StatusCode)
	}
	var status arweaveTxStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		// The node answers a plain "Pending" body for unmined transactions.
		return TransactionStatus{State: StatusPending}, nil
	}
	if status.NumberOfConfirmations >= g.minConfirmations {
		return TransactionStatus{State: StatusConfirmed, BlockHeight: status.BlockHeight}, nil
	}
	return TransactionStatus{State: StatusPending}, nil
}

type arweaveGraphQLResponse struct {
	Data struct {
		Transaction *struct {
			Recipient string `json:"recipient"`
			Owner     struct {
				Address string `json:"address"`
			} `json:"owner"`
			Quantity struct {
				Winston string `json:"winston"`
			} `json:"quantity"`
		} `json:"transaction"`
	} `json:"data"`
}

const arweaveTxQuery = `query($id: ID!) {
  transaction(id: $id) {
    recipient
    owner { address }
    quantity { winston }
  }
}`

// GetTransaction fetches sender, recipient and winston quantity via GraphQL.
func (g *ArweaveGateway) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     arweaveTxQuery,
		"variables": map[string]string{"id": txID},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arweave graphql: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("arweave graphql: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var decoded arweaveGraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("arweave graphql: decode: %w", err)
	}
	tx := decoded.Data.Transaction
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	quantity, ok := new(big.Int).SetString(strings.TrimSpace(tx.Quantity.Winston), 10)
	if !ok {
		return nil, fmt.Errorf("arweave graphql: bad winston quantity %q", tx.Quantity.Winston)
	}
	if quantity.Sign() == 0 {
		return nil, ErrNotAPayment
	}
	return &TransactionInfo{
		Quantity:         quantity,
		SenderAddress:    tx.Owner.Address,
		RecipientAddress: tx.Recipient,
	}, nil
}
