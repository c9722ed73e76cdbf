package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cora-insurance-service/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.LedgerSubmission{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type scriptedStrategy struct {
	name  string
	hash  string
	err   error
	calls int
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) SubmitTransaction(ctx context.Context, payload Payload) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.hash, nil
}

func testPayload() Payload {
	return Payload{
		Function: "0xmod::premium_escrow::pay_premium",
		Sender:   "0xowner",
	}
}

func TestSubmitUsesFirstStrategy(t *testing.T) {
	direct := &scriptedStrategy{name: "node", hash: "0xaaa"}
	relay := &scriptedStrategy{name: "relay", hash: "0xbbb"}
	sub := NewSubmitter(newTestDB(t), direct, relay)

	res, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:0")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Hash != "0xaaa" {
		t.Fatalf("expected direct hash, got %s", res.Hash)
	}
	if res.Status != TxStatusPending {
		t.Fatalf("expected pending status, got %s", res.Status)
	}
	if relay.calls != 0 {
		t.Fatalf("relay should not have been tried, got %d calls", relay.calls)
	}
}

func TestSubmitFallsBackToRelay(t *testing.T) {
	direct := &scriptedStrategy{name: "node", err: errors.New("connection refused")}
	relay := &scriptedStrategy{name: "relay", hash: "0xrelay"}
	sub := NewSubmitter(newTestDB(t), direct, relay)

	res, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:0")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Hash != "0xrelay" {
		t.Fatalf("expected relay hash, got %s", res.Hash)
	}
	if direct.calls != 1 || relay.calls != 1 {
		t.Fatalf("expected one call each, got direct=%d relay=%d", direct.calls, relay.calls)
	}
}

func TestSubmitReplaysIdempotencyKey(t *testing.T) {
	direct := &scriptedStrategy{name: "node", hash: "0xaaa"}
	sub := NewSubmitter(newTestDB(t), direct)

	first, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:0")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:0")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if !second.Replayed {
		t.Fatal("second submit should have replayed the recorded submission")
	}
	if second.Hash != first.Hash {
		t.Fatalf("replay returned different hash: %s vs %s", second.Hash, first.Hash)
	}
	if direct.calls != 1 {
		t.Fatalf("strategy should have been called once, got %d", direct.calls)
	}
}

func TestSubmitAllStrategiesExhausted(t *testing.T) {
	db := newTestDB(t)
	direct := &scriptedStrategy{name: "node", err: errors.New("down")}
	relay := &scriptedStrategy{name: "relay", err: errors.New("also down")}
	sub := NewSubmitter(db, direct, relay)

	_, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:0")
	if !errors.Is(err, models.ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}

	var count int64
	db.Model(&models.LedgerSubmission{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed submission must record nothing, found %d rows", count)
	}
}

func TestCircuitBreakerSkipsFailingStrategy(t *testing.T) {
	direct := &scriptedStrategy{name: "node", err: errors.New("down")}
	relay := &scriptedStrategy{name: "relay", hash: "0xrelay"}
	sub := NewSubmitter(newTestDB(t), direct, relay)
	sub.FailureThreshold = 2

	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("pay_premium:p1:%d", i)
		if _, err := sub.Submit(context.Background(), testPayload(), key); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if direct.calls != 2 {
		t.Fatalf("expected 2 direct attempts before the breaker opens, got %d", direct.calls)
	}

	if _, err := sub.Submit(context.Background(), testPayload(), "pay_premium:p1:2"); err != nil {
		t.Fatalf("submit with open breaker: %v", err)
	}
	if direct.calls != 2 {
		t.Fatalf("open breaker should skip the failing strategy, got %d calls", direct.calls)
	}
	if relay.calls != 3 {
		t.Fatalf("expected relay to carry all 3 submissions, got %d", relay.calls)
	}
}
