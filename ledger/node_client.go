// ledger/node_client.go
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"cora-insurance-service/utils"
)

// NodeClient talks REST to a ledger full node. It is the primary submission
// strategy (the transaction arrives pre-signed by the user's wallet) and the
// source of truth the poller reads confirmation from.
type NodeClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewNodeClient(baseURL, apiKey string) *NodeClient {
	return &NodeClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  utils.HTTPClient,
	}
}

func (c *NodeClient) Name() string { return "node" }

func (c *NodeClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

// SubmitTransaction posts the signed payload to the node and returns the
// transaction hash the node assigned.
func (c *NodeClient) SubmitTransaction(ctx context.Context, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/transactions", c.BaseURL), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ledger node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ledger node returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode node response: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ledger node accepted transaction but returned no hash")
	}
	return out.Hash, nil
}

// GetTransactionStatus looks up a transaction by hash. A node 404 means the
// transaction has not been seen yet, which is still pending from our side.
func (c *NodeClient) GetTransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/transactions/by_hash/%s", c.BaseURL, hash), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ledger node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return TxStatusPending, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ledger node returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out struct {
		Type     string `json:"type"`
		Success  *bool  `json:"success"`
		VMStatus string `json:"vm_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode node response: %w", err)
	}

	if out.Type == "pending_transaction" || out.Success == nil {
		return TxStatusPending, nil
	}
	if *out.Success {
		return TxStatusConfirmed, nil
	}
	log.Printf("❌ [LEDGER] transaction %s failed on-chain: %s", hash, out.VMStatus)
	return TxStatusFailed, nil
}

// ReadResource fetches a typed resource from an account, e.g. the policy
// registry state under the module address.
func (c *NodeClient) ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/accounts/%s/resource/%s", c.BaseURL, address, resourceType), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ledger node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ledger node returned status %d: %s", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read node response: %w", err)
	}
	return json.RawMessage(raw), nil
}
