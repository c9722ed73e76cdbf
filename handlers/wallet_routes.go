// handlers/wallet_routes.go
package handlers

import (
	"cora-insurance-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupWalletRoutes wires the wallet-mapping endpoints. Responses use the
// {success, message, data} envelope the relay collaborators already speak.
func SetupWalletRoutes(app *fiber.App, wallets *services.WalletService) {
	app.Post("/wallet-mapping", func(c *fiber.Ctx) error {
		var req struct {
			UserID        string `json:"user_id"`
			WalletAddress string `json:"wallet_address"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false, "message": "Invalid request body",
			})
		}

		mapping, err := wallets.Bind(req.UserID, req.WalletAddress)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{
				"success": false, "message": err.Error(),
			})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"message": "Wallet mapping created successfully",
			"data": fiber.Map{
				"user_id":        mapping.UserID,
				"wallet_address": mapping.WalletAddress,
			},
		})
	})

	app.Get("/verify-wallet/:user/:address", func(c *fiber.Ctx) error {
		ok, err := wallets.Verify(c.Params("user"), c.Params("address"))
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{
				"success": false, "message": err.Error(),
			})
		}
		if !ok {
			return c.JSON(fiber.Map{
				"success": false,
				"message": "Invalid wallet mapping",
				"data":    fiber.Map{"is_valid": false},
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Wallet mapping verified",
			"data": fiber.Map{
				"is_valid":       true,
				"user_id":        c.Params("user"),
				"wallet_address": c.Params("address"),
			},
		})
	})
}
