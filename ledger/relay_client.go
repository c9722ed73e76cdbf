// ledger/relay_client.go
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cora-insurance-service/utils"
)

// relayEnvelope is the backend relay's response wrapper. Every relay reply
// goes through decodeEnvelope before anything in it is trusted.
type relayEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RelayClient submits transactions through the backend relay service instead
// of the node directly. The relay exposes operation-specific routes, so
// Submit dispatches on the entry function name; functions the relay has no
// route for fail this strategy and let the submitter surface the error.
type RelayClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewRelayClient(baseURL, token string) *RelayClient {
	return &RelayClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

func (c *RelayClient) Name() string { return "relay" }

// relayRoute maps an entry function to the relay endpoint that performs it.
func relayRoute(function string) (string, bool) {
	switch {
	case strings.HasSuffix(function, "::policy_registry::create_policy"):
		return "/create-policy", true
	case strings.HasSuffix(function, "::premium_escrow::pay_premium"):
		return "/process-payment", true
	case strings.HasSuffix(function, "::claim_processor::submit_claim"):
		return "/file-claim", true
	case strings.HasSuffix(function, "::policy_registry::register_wallet"):
		return "/wallet-mapping", true
	}
	return "", false
}

func (c *RelayClient) post(ctx context.Context, path string, body any) (*relayEnvelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call relay: %w", err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp)
}

func decodeEnvelope(resp *http.Response) (*relayEnvelope, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(raw))
	}

	var env relayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode relay envelope: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("relay rejected request: %s", env.Message)
	}
	return &env, nil
}

// SubmitTransaction relays the payload through the matching backend route and
// validates the returned hash the same way the direct path would.
func (c *RelayClient) SubmitTransaction(ctx context.Context, payload Payload) (string, error) {
	path, ok := relayRoute(payload.Function)
	if !ok {
		return "", fmt.Errorf("relay has no route for %s", payload.Function)
	}

	env, err := c.post(ctx, path, payload)
	if err != nil {
		return "", err
	}

	var data struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("failed to decode relay data: %w", err)
	}
	if data.TransactionHash == "" || !strings.HasPrefix(data.TransactionHash, "0x") {
		return "", fmt.Errorf("relay returned malformed transaction hash %q", data.TransactionHash)
	}
	return data.TransactionHash, nil
}

// GetTransactionStatus asks the relay for the status of a transaction. Used
// only when the relay is the sole configured status source.
func (c *RelayClient) GetTransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/transaction-status/%s", c.BaseURL, hash), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call relay: %w", err)
	}
	defer resp.Body.Close()

	env, err := decodeEnvelope(resp)
	if err != nil {
		return "", err
	}

	var data struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("failed to decode relay data: %w", err)
	}
	switch strings.ToLower(data.Status) {
	case "confirmed", "success":
		return TxStatusConfirmed, nil
	case "failed":
		return TxStatusFailed, nil
	case "pending", "submitted":
		return TxStatusPending, nil
	}
	return "", fmt.Errorf("relay returned unknown transaction status %q", data.Status)
}
