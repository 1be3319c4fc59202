// Package remote implements ledger.Gateway against the ledger node bridge's
// HTTP API. The bridge holds the operator key and performs the actual
// transaction signing; this client submits well-formed operation payloads
// and interprets outcomes.
//
// Classification contract: HTTP 4xx responses are terminal rejections
// carrying the network's status code; 5xx and transport errors are
// transient; a deadline hitting mid-request is ambiguous (the transaction
// may have reached consensus) and is marked for receipt reconciliation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"brickledger/internal/ledger"
	"brickledger/pkg/platform/sentinel"
)

const tracerName = "brickledger/internal/ledger/remote"

// Client talks to the node bridge.
type Client struct {
	endpoint string
	http     *http.Client
	operator string
	tracer   trace.Tracer
}

var _ ledger.Gateway = (*Client)(nil)

// New constructs a remote gateway client. The endpoint and operator account
// come from deployment configuration, never from business logic.
func New(endpoint, operatorAccount string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		operator: operatorAccount,
		http:     &http.Client{Timeout: timeout},
		tracer:   otel.Tracer(tracerName),
	}
}

// submission is the bridge's transaction envelope.
type submission struct {
	Operation      string `json:"operation"`
	IdempotencyKey string `json:"idempotency_key"`
	Operator       string `json:"operator"`
	Payload        any    `json:"payload"`
}

// bridgeResponse mirrors the bridge's receipt envelope.
type bridgeResponse struct {
	Receipt *ledger.Receipt `json:"receipt"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

func (c *Client) submit(ctx context.Context, operation string, key ledger.IdempotencyKey, payload any) (*ledger.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.submit",
		trace.WithAttributes(
			attribute.String("ledger.operation", operation),
			attribute.String("ledger.idempotency_key", key.String()),
		))
	defer span.End()

	body, err := json.Marshal(submission{
		Operation:      operation,
		IdempotencyKey: key.String(),
		Operator:       c.operator,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s submission: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// A deadline hitting mid-flight leaves the outcome unknown; the
		// transaction may still reach consensus.
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			span.SetAttributes(attribute.Bool("ledger.ambiguous", true))
			return nil, ledger.MarkAmbiguous(err)
		}
		return nil, ledger.MarkTransient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ledger.MarkAmbiguous(err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, ledger.MarkTransient(fmt.Errorf("bridge returned %d: %s", resp.StatusCode, raw))
	case resp.StatusCode >= 400:
		var br bridgeResponse
		if err := json.Unmarshal(raw, &br); err != nil || br.Status == "" {
			return nil, ledger.Reject(fmt.Sprintf("HTTP_%d", resp.StatusCode), string(raw))
		}
		return nil, ledger.Reject(br.Status, br.Message)
	}

	var br bridgeResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		return nil, ledger.MarkAmbiguous(fmt.Errorf("decode receipt: %w", err))
	}
	if br.Receipt == nil {
		return nil, ledger.MarkAmbiguous(fmt.Errorf("bridge response without receipt: %s", raw))
	}
	span.SetAttributes(attribute.String("ledger.transaction_id", br.Receipt.TransactionID.String()))
	return br.Receipt, nil
}

func isClientTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) CreateToken(ctx context.Context, req ledger.CreateTokenRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "create_token", req.IdempotencyKey, req)
}

func (c *Client) MintTokens(ctx context.Context, req ledger.MintRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "mint_tokens", req.IdempotencyKey, req)
}

func (c *Client) BurnTokens(ctx context.Context, req ledger.BurnRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "burn_tokens", req.IdempotencyKey, req)
}

func (c *Client) TransferTokens(ctx context.Context, req ledger.TransferTokensRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "transfer_tokens", req.IdempotencyKey, req)
}

func (c *Client) UpdateTokenKeys(ctx context.Context, req ledger.UpdateTokenKeysRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "update_token_keys", req.IdempotencyKey, req)
}

func (c *Client) FreezeToken(ctx context.Context, req ledger.FreezeTokenRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "freeze_token", req.IdempotencyKey, req)
}

func (c *Client) FreezeAccount(ctx context.Context, req ledger.FreezeAccountRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "freeze_account", req.IdempotencyKey, req)
}

func (c *Client) CreateTopic(ctx context.Context, req ledger.CreateTopicRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "create_topic", req.IdempotencyKey, req)
}

func (c *Client) SubmitTopicMessage(ctx context.Context, req ledger.TopicMessageRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "submit_topic_message", req.IdempotencyKey, req)
}

func (c *Client) TransferValue(ctx context.Context, req ledger.TransferValueRequest) (*ledger.Receipt, error) {
	return c.submit(ctx, "transfer_value", req.IdempotencyKey, req)
}

func (c *Client) LookupReceipt(ctx context.Context, key ledger.IdempotencyKey) (*ledger.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ledger.lookup_receipt",
		trace.WithAttributes(attribute.String("ledger.idempotency_key", key.String())))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/receipts/"+key.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build receipt lookup: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ledger.MarkTransient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("receipt for key %s: %w", key, sentinel.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ledger.MarkTransient(fmt.Errorf("receipt lookup returned %d", resp.StatusCode))
	}

	var br bridgeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&br); err != nil {
		return nil, ledger.MarkTransient(fmt.Errorf("decode receipt: %w", err))
	}
	if br.Receipt == nil {
		return nil, fmt.Errorf("receipt for key %s: %w", key, sentinel.ErrNotFound)
	}
	return br.Receipt, nil
}
