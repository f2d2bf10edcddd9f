package token

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
)

// ARIOGateway reads AO message results from a compute unit endpoint. A
// transfer is considered settled once its result carries a Credit-Notice
// message with Sender and Quantity tags. AO has no block heights; confirmed
// results report height zero.
type ARIOGateway struct {
	cuURL     string
	processID string
	client    doer
}

// NewARIOGateway builds the adapter against the given compute unit.
func NewARIOGateway(cuURL, processID string, client *http.Client) *ARIOGateway {
	var inner doer
	if client != nil {
		inner = client
	}
	return &ARIOGateway{
		cuURL:     strings.TrimRight(cuURL, "/"),
		processID: processID,
		client:    newLimitedClient(inner, 10),
	}
}

// Endpoint reports the compute unit URL.
func (g *ARIOGateway) Endpoint() string { return g.cuURL }

type aoTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type aoResult struct {
	Messages []struct {
		Target string  `json:"Target"`
		Tags   []aoTag `json:"Tags"`
	} `json:"Messages"`
	Error interface{} `json:"Error"`
}

func (g *ARIOGateway) fetchResult(ctx context.Context, messageID string) (*aoResult, error) {
	url := fmt.Sprintf("%s/result/%s?process-id=%s", g.cuURL, messageID, g.processID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ao result: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrTransactionNotFound
	default:
		return nil, fmt.Errorf("ao result: unexpected http %d", resp.StatusCode)
	}
	var result aoResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ao result: decode: %w", err)
	}
	return &result, nil
}

func tagValue(tags []aoTag, name string) string {
	for _, tag := range tags {
		if strings.EqualFold(tag.Name, name) {
			return tag.Value
		}
	}
	return ""
}

// creditNotice extracts the Credit-Notice message, if any.
func (g *ARIOGateway) creditNotice(result *aoResult) (sender, quantity, target string, ok bool) {
	for _, msg := range result.Messages {
		if !strings.EqualFold(tagValue(msg.Tags, "Action"), "Credit-Notice") {
			continue
		}
		sender = tagValue(msg.Tags, "Sender")
		quantity = tagValue(msg.Tags, "Quantity")
		if sender == "" || quantity == "" {
			continue
		}
		return sender, quantity, msg.Target, true
	}
	return "", "", "", false
}

// GetTransaction reads the transfer amount from the Credit-Notice tags.
func (g *ARIOGateway) GetTransaction(ctx context.Context, messageID string) (*TransactionInfo, error) {
	result, err := g.fetchResult(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, ErrTransactionNotMined
	}
	sender, quantityStr, target, ok := g.creditNotice(result)
	if !ok {
		return nil, ErrNotAPayment
	}
	quantity, parsed := new(big.Int).SetString(strings.TrimSpace(quantityStr), 10)
	if !parsed || quantity.Sign() <= 0 {
		return nil, ErrNotAPayment
	}
	return &TransactionInfo{
		Quantity:         quantity,
		SenderAddress:    sender,
		RecipientAddress: target,
	}, nil
}

// GetTransactionStatus confirms once the Credit-Notice exists.
func (g *ARIOGateway) GetTransactionStatus(ctx context.Context, messageID string) (TransactionStatus, error) {
	result, err := g.fetchResult(ctx, messageID)
	if err != nil {
		if err == ErrTransactionNotFound {
			return TransactionStatus{State: StatusNotFound}, nil
		}
		return TransactionStatus{}, err
	}
	if result.Error != nil {
		return TransactionStatus{State: StatusNotFound}, nil
	}
	if _, _, _, ok := g.creditNotice(result); !ok {
		return TransactionStatus{State: StatusPending}, nil
	}
	return TransactionStatus{State: StatusConfirmed, BlockHeight: 0}, nil
}
