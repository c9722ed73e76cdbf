package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cora-insurance-service/models"
	"cora-insurance-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newWalletApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.WalletMapping{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	app := fiber.New()
	SetupWalletRoutes(app, services.NewWalletService(db))
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestWalletMappingEndpoint(t *testing.T) {
	app := newWalletApp(t)

	resp, body := postJSON(t, app, "/wallet-mapping", `{"user_id":"u1","wallet_address":"0xabc"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}

	// Same pair again: idempotent, still a success.
	resp, _ = postJSON(t, app, "/wallet-mapping", `{"user_id":"u1","wallet_address":"0xabc"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("rebind of same pair: expected 201, got %d", resp.StatusCode)
	}

	// Different address for the same user: conflict.
	resp, body = postJSON(t, app, "/wallet-mapping", `{"user_id":"u1","wallet_address":"0xother"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("conflict must report success=false, got %v", body)
	}

	// Missing fields: validation error.
	resp, _ = postJSON(t, app, "/wallet-mapping", `{"user_id":"","wallet_address":""}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestVerifyWalletEndpoint(t *testing.T) {
	app := newWalletApp(t)
	postJSON(t, app, "/wallet-mapping", `{"user_id":"u1","wallet_address":"0xabc"}`)

	req := httptest.NewRequest("GET", "/verify-wallet/u1/0xabc", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("verify request: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("expected valid mapping, got %v", body)
	}

	req = httptest.NewRequest("GET", "/verify-wallet/u1/0xwrong", nil)
	resp, _ = app.Test(req, -1)
	body = map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["success"] != false {
		t.Fatalf("expected invalid mapping, got %v", body)
	}
	data, _ := body["data"].(map[string]any)
	if data["is_valid"] != false {
		t.Fatalf("expected is_valid=false, got %v", body)
	}
}
