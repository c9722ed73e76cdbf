// handlers/claim_routes.go
package handlers

import (
	"fmt"
	"path/filepath"

	"cora-insurance-service/middleware"
	"cora-insurance-service/models"
	"cora-insurance-service/services"
	"cora-insurance-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SetupClaimRoutes wires claim filing, the admin adjudication transitions and
// evidence document uploads.
func SetupClaimRoutes(app *fiber.App, claims *services.ClaimService, wallets *services.WalletService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/claims", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		claimant := callerAddress(c)
		if claimant == "" {
			return fail(c, fmt.Errorf("%w: X-Wallet-Address header is required", models.ErrValidation))
		}
		ok, err := wallets.Verify(userID, claimant)
		if err != nil {
			return fail(c, err)
		}
		if !ok {
			return fail(c, fmt.Errorf("%w: wallet %s is not bound to user %s", models.ErrAuthorization, claimant, userID))
		}

		var req struct {
			PolicyID string `json:"policy_id"`
			Amount   int64  `json:"amount"`
			Reason   string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if _, err := uuid.Parse(req.PolicyID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid policy ID"})
		}

		claim, err := claims.File(c.Context(), req.PolicyID, claimant, req.Amount, req.Reason)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"claimId": claim.ID,
			"txHash":  claim.TxHash,
			"status":  claim.Status,
		})
	})

	secured.Get("/claims/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid claim ID"})
		}
		claim, err := claims.Get(id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(claim)
	})

	adminTransition := func(fn func(c *fiber.Ctx, id string) (*models.Claim, error)) fiber.Handler {
		return func(c *fiber.Ctx) error {
			id := c.Params("id")
			if _, err := uuid.Parse(id); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid claim ID"})
			}
			claim, err := fn(c, id)
			if err != nil {
				return fail(c, err)
			}
			return c.JSON(claim)
		}
	}

	secured.Post("/claims/:id/verify", adminTransition(func(c *fiber.Ctx, id string) (*models.Claim, error) {
		return claims.Verify(c.Context(), id, callerAddress(c))
	}))
	secured.Post("/claims/:id/pay", adminTransition(func(c *fiber.Ctx, id string) (*models.Claim, error) {
		return claims.PayClaim(c.Context(), id, callerAddress(c))
	}))
	secured.Post("/claims/:id/reject", adminTransition(func(c *fiber.Ctx, id string) (*models.Claim, error) {
		return claims.Reject(c.Context(), id, callerAddress(c))
	}))

	secured.Post("/claims/:id/documents", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid claim ID"})
		}
		if !utils.R2Configured() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "document storage is not configured"})
		}

		fileHeader, err := c.FormFile("document")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "document file is required"})
		}

		key := fmt.Sprintf("claims/%s/%s%s", id, uuid.NewString(), filepath.Ext(fileHeader.Filename))
		url, err := utils.UploadClaimDocument(fileHeader, key)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store document"})
		}

		doc, err := claims.AddDocument(id, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), key, url)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(doc)
	})

	secured.Get("/claims/:id/documents", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid claim ID"})
		}
		docs, err := claims.Documents(id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(docs)
	})
}
