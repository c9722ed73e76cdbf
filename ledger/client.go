// ledger/client.go
package ledger

import (
	"context"
	"encoding/json"
)

// TxStatus is the ledger's view of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Payload is an entry-function call bound for the ledger program.
// Function is fully qualified, e.g. "0xMOD::premium_escrow::pay_premium".
type Payload struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
	Sender        string   `json:"sender"`
}

// Client is the single injected handle to the ledger. Concrete
// implementations (full-node client, relay client, test doubles) are chosen
// by configuration at construction time.
type Client interface {
	SubmitTransaction(ctx context.Context, payload Payload) (string, error)
	GetTransactionStatus(ctx context.Context, hash string) (TxStatus, error)
	ReadResource(ctx context.Context, address, resourceType string) (json.RawMessage, error)
}

// StatusReader is the read side of Client, all the poller needs.
type StatusReader interface {
	GetTransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}
