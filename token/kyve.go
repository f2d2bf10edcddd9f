package token

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
)

// kyveDenoms are the only accepted transfer denominations.
var kyveDenoms = map[string]struct{}{
	"ukyve": {},
	"tkyve": {},
}

// KyveGateway reads payments from a Kyve (Cosmos SDK) REST endpoint. Only
// bank MsgSend transfers in the kyve denoms count as payments.
type KyveGateway struct {
	endpoint string
	client   doer
}

// NewKyveGateway builds the adapter.
func NewKyveGateway(endpoint string, client *http.Client) *KyveGateway {
	var inner doer
	if client != nil {
		inner = client
	}
	return &KyveGateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   newLimitedClient(inner, 10),
	}
}

// Endpoint reports the configured REST URL.
func (g *KyveGateway) Endpoint() string { return g.endpoint }

type kyveTxResponse struct {
	Tx struct {
		Body struct {
			Messages []struct {
				Type        string `json:"@type"`
				FromAddress string `json:"from_address"`
				ToAddress   string `json:"to_address"`
				Amount      []struct {
					Denom  string `json:"denom"`
					Amount string `json:"amount"`
				} `json:"amount"`
			} `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
	TxResponse struct {
		Height string `json:"height"`
		Code   int    `json:"code"`
	} `json:"tx_response"`
}

func (g *KyveGateway) fetch(ctx context.Context, txID string) (*kyveTxResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/cosmos/tx/v1beta1/txs/%s", g.endpoint, txID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kyve tx: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return nil, ErrTransactionNotFound
	default:
		return nil, fmt.Errorf("kyve tx: unexpected http %d", resp.StatusCode)
	}
	var decoded kyveTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("kyve tx: decode: %w", err)
	}
	return &decoded, nil
}

// GetTransaction validates the transfer shape: executed code zero and a bank
// send in a kyve denom; the first such send in the transaction is used.
func (g *KyveGateway) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	decoded, err := g.fetch(ctx, txID)
	if err != nil {
		return nil, err
	}
	if decoded.TxResponse.Code != 0 {
		return nil, ErrTransactionNotMined
	}
	for _, msg := range decoded.Tx.Body.Messages {
		if !strings.HasSuffix(msg.Type, "cosmos.bank.v1beta1.MsgSend") {
			continue
		}
		for _, coin := range msg.Amount {
			if _, ok := kyveDenoms[strings.ToLower(coin.Denom)]; !ok {
				continue
			}
			quantity, ok := new(big.Int).SetString(strings.TrimSpace(coin.Amount), 10)
			if !ok || quantity.Sign() <= 0 {
				return nil, ErrNotAPayment
			}
			return &TransactionInfo{
				Quantity:         quantity,
				SenderAddress:    msg.FromAddress,
				RecipientAddress: msg.ToAddress,
			}, nil
		}
	}
	return nil, ErrNotAPayment
}

// GetTransactionStatus reports confirmed for any indexed, successful
// transfer. Cosmos finality is immediate once a transaction is in a block.
func (g *KyveGateway) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	decoded, err := g.fetch(ctx, txID)
	if err != nil {
		if err == ErrTransactionNotFound {
			return TransactionStatus{State: StatusNotFound}, nil
		}
		return TransactionStatus{}, err
	}
	if decoded.TxResponse.Code != 0 {
		return TransactionStatus{State: StatusNotFound}, nil
	}
	var height int64
	fmt.Sscanf(decoded.TxResponse.Height, "%d", &height)
	return TransactionStatus{State: StatusConfirmed, BlockHeight: height}, nil
}
