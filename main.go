package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cora-insurance-service/handlers"
	"cora-insurance-service/ledger"
	"cora-insurance-service/middleware"
	"cora-insurance-service/models"
	"cora-insurance-service/services"
	"cora-insurance-service/utils"
	"cora-insurance-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024, // 50MB, claim documents included
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Wallet-Address",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.WalletMapping{},
		&models.Policy{},
		&models.PremiumPayment{},
		&models.Claim{},
		&models.ClaimDocument{},
		&models.LedgerSubmission{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	nodeURL := os.Getenv("LEDGER_NODE_URL")
	if nodeURL == "" {
		log.Fatal("LEDGER_NODE_URL environment variable not set")
	}
	moduleAddress := os.Getenv("MODULE_ADDRESS")
	if moduleAddress == "" {
		log.Fatal("MODULE_ADDRESS environment variable not set")
	}
	adminAddress := os.Getenv("ADMIN_ADDRESS")
	if adminAddress == "" {
		log.Fatal("ADMIN_ADDRESS environment variable not set")
	}

	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		log.Println("✅ Claim document storage enabled (R2)")
	} else {
		log.Println("⚠️  R2_BUCKET_NAME not set — claim document uploads disabled")
	}

	nodeClient := ledger.NewNodeClient(nodeURL, os.Getenv("LEDGER_API_KEY"))
	strategies := []ledger.Strategy{nodeClient}
	if relayURL := os.Getenv("RELAY_API_URL"); relayURL != "" {
		strategies = append(strategies, ledger.NewRelayClient(relayURL, os.Getenv("RELAY_API_TOKEN")))
		log.Println("✅ Relay submission fallback enabled")
	}
	submitter := ledger.NewSubmitter(db, strategies...)
	poller := ledger.NewPoller(nodeClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	walletService := services.NewWalletService(db)
	policyService := services.NewPolicyService(ctx, db, submitter, poller, nodeClient, moduleAddress, adminAddress)
	premiumService := services.NewPremiumService(ctx, db, submitter, poller, policyService, moduleAddress)
	claimService := services.NewClaimService(ctx, db, submitter, poller, moduleAddress, adminAddress)

	// Resume confirmation polling for anything still outstanding in the DB —
	// a restart must never strand a submitted payment or claim transition.
	reconciler := workers.NewReconcileWorker(db, premiumService, policyService, claimService)
	go reconciler.Run(ctx, 2*time.Minute)

	policyService.StartLifecycleScheduler(premiumService)

	handlers.SetupWalletRoutes(app, walletService)
	handlers.SetupPolicyRoutes(app, policyService, premiumService, walletService)
	handlers.SetupClaimRoutes(app, claimService, walletService)

	go func() {
		if err := app.Listen(":5200"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5200")
	log.Println("✅ Reconciliation worker running")
	log.Println("✅ Lifecycle scheduler running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
