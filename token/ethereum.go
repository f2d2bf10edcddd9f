package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is the subset of the Ethereum RPC the adapter uses.
type EVMClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// EthereumGateway serves both mainnet and Base through a JSON-RPC provider.
type EthereumGateway struct {
	endpoint         string
	chainID          *big.Int
	minConfirmations int64
	client           EVMClient
}

// DialEthereumGateway connects to the RPC endpoint. minConfirmations
// defaults to 5.
func DialEthereumGateway(endpoint string, chainID int64, minConfirmations int64) (*EthereumGateway, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial evm endpoint: %w", err)
	}
	return NewEthereumGateway(trimmed, chainID, minConfirmations, client), nil
}

// NewEthereumGateway builds the adapter from an existing client.
func NewEthereumGateway(endpoint string, chainID int64, minConfirmations int64, client EVMClient) *EthereumGateway {
	if minConfirmations <= 0 {
		minConfirmations = 5
	}
	return &EthereumGateway{
		endpoint:         strings.TrimRight(endpoint, "/"),
		chainID:          big.NewInt(chainID),
		minConfirmations: minConfirmations,
		client:           client,
	}
}

// Endpoint reports the configured RPC URL.
func (g *EthereumGateway) Endpoint() string { return g.endpoint }

// GetTransaction fetches the native value transfer backing a payment.
// Contract calls carrying no value are not payments.
func (g *EthereumGateway) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	tx, pending, err := g.client.TransactionByHash(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("fetch transaction %s: %w", txID, err)
	}
	if pending {
		return nil, ErrTransactionNotMined
	}
	if tx.To() == nil || tx.Value() == nil || tx.Value().Sign() == 0 {
		return nil, ErrNotAPayment
	}
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(g.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender for %s: %w", txID, err)
	}
	return &TransactionInfo{
		Quantity:         new(big.Int).Set(tx.Value()),
		SenderAddress:    sender.Hex(),
		RecipientAddress: tx.To().Hex(),
	}, nil
}

// GetTransactionStatus confirms once the receipt has minConfirmations
// confirmations, counting its own block as the first.
func (g *EthereumGateway) GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TransactionStatus{State: StatusNotFound}, nil
		}
		return TransactionStatus{}, fmt.Errorf("fetch receipt %s: %w", txID, err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return TransactionStatus{State: StatusPending}, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return TransactionStatus{State: StatusNotFound}, nil
	}
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil {
		return TransactionStatus{}, fmt.Errorf("block metadata unavailable")
	}
	confirmations := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmations.Add(confirmations, big.NewInt(1))
	if confirmations.Cmp(big.NewInt(g.minConfirmations)) < 0 {
		return TransactionStatus{State: StatusPending}, nil
	}
	return TransactionStatus{
		State:       StatusConfirmed,
		BlockHeight: receipt.BlockNumber.Int64(),
	}, nil
}
