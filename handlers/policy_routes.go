// handlers/policy_routes.go
package handlers

import (
	"fmt"

	"cora-insurance-service/middleware"
	"cora-insurance-service/models"
	"cora-insurance-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SetupPolicyRoutes wires policy creation, views and premium payment. Every
// route that moves money first checks the caller's user↔wallet binding.
func SetupPolicyRoutes(app *fiber.App, policies *services.PolicyService, premiums *services.PremiumService, wallets *services.WalletService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// requireBoundWallet confirms the Gateway-supplied wallet address is the
	// one bound to this user before any ledger-bound operation proceeds.
	requireBoundWallet := func(c *fiber.Ctx) (string, error) {
		userID := c.Locals("user_id").(string)
		address := callerAddress(c)
		if address == "" {
			return "", fmt.Errorf("%w: X-Wallet-Address header is required", models.ErrValidation)
		}
		ok, err := wallets.Verify(userID, address)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: wallet %s is not bound to user %s", models.ErrAuthorization, address, userID)
		}
		return address, nil
	}

	secured.Post("/policies", func(c *fiber.Ctx) error {
		owner, err := requireBoundWallet(c)
		if err != nil {
			return fail(c, err)
		}

		var req struct {
			PolicyType     models.PolicyType `json:"policy_type"`
			CoverageAmount int64             `json:"coverage_amount"`
			TermDays       int               `json:"term_days"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		policy, err := policies.Create(c.Context(), services.CreatePolicyInput{
			Owner:          owner,
			PolicyType:     req.PolicyType,
			CoverageAmount: req.CoverageAmount,
			TermDays:       req.TermDays,
		})
		if err != nil {
			return fail(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"policyId": policy.ID,
			"txHash":   policy.PendingTx,
		})
	})

	secured.Get("/policies/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid policy ID"})
		}
		view, err := policies.Get(id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(view)
	})

	// Raw on-chain registry state for comparing against the local view.
	secured.Get("/policies/:id/ledger", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid policy ID"})
		}
		raw, err := policies.LedgerState(c.Context(), id)
		if err != nil {
			return fail(c, err)
		}
		c.Set("Content-Type", "application/json")
		return c.Send(raw)
	})

	secured.Get("/users/:address/policies", func(c *fiber.Ctx) error {
		views, err := policies.List(c.Params("address"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(views)
	})

	secured.Post("/policies/:id/premium", func(c *fiber.Ctx) error {
		if _, err := requireBoundWallet(c); err != nil {
			return fail(c, err)
		}

		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid policy ID"})
		}

		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		payment, err := premiums.Pay(c.Context(), id, req.Amount)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"paymentId": payment.ID,
			"txHash":    payment.TxHash,
			"status":    payment.Status,
		})
	})

	// Manual re-poll for a payment that timed out; resolves it without
	// resubmitting anything.
	secured.Post("/payments/:id/repoll", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payment ID"})
		}

		status, err := premiums.ConfirmPayment(c.Context(), id)
		if err != nil && status == models.PaymentStatusSubmitted {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"status":      status,
				"unconfirmed": true,
			})
		}
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"status": status})
	})

	secured.Post("/policies/:id/cancel", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid policy ID"})
		}
		if err := policies.Cancel(c.Context(), id, callerAddress(c)); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"status": models.PolicyStatusCancelled})
	})
}
