package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"battle-service/handlers"
	"battle-service/middleware"
	"battle-service/models"
	"battle-service/realtime"
	"battle-service/services"
	"battle-service/utils"
	"battle-service/workers"

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
		BodyLimit: 100 * 1024 * 1024, // 100MB, beats are the largest upload
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
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
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.UserFollow{},
		&models.BattleView{},
		&models.Beat{},
		&models.Battle{},
		&models.BattleExportThumbnail{},
		&models.BattleParticipant{},
		&models.ParticipantThumbnail{},
		&models.Checkin{},
		&models.StateMachineEvent{},
		&models.Vote{},
		&models.Challenge{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	config := services.DefaultConfig
	hub := realtime.NewHub()

	battleService := services.NewBattleService(db, config, hub, services.LocalRoomOpener{})
	voteService := services.NewVoteService(db, config, hub)
	scoringService := services.NewScoringService(db, config, hub)
	matchingService := services.NewMatchingService(db, config, hub, battleService)
	feedService := services.NewFeedService(db, config, utils.NewR2Signer(), voteService)
	userService := services.NewUserService(db, config, hub)
	videoService := services.NewVideoService(db, hub, services.NopTranscoder{})

	// Late wiring: battle completion and privacy flips feed winner and score
	// recomputation, votes feed scores.
	battleService.Winners = voteService
	battleService.Scores = scoringService
	voteService.Scores = scoringService

	authServiceURL := os.Getenv("AUTH_SERVICE_URL")
	if authServiceURL == "" {
		log.Fatal("AUTH_SERVICE_URL environment variable not set")
	}
	battleServiceToken := os.Getenv("BATTLE_SERVICE_TOKEN")
	if battleServiceToken == "" {
		log.Fatal("BATTLE_SERVICE_TOKEN environment variable not set")
	}
	authClient := services.NewAuthServiceClient(authServiceURL, battleServiceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := services.NewScheduler(matchingService, voteService, scoringService, config)
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer scheduler.Stop()

	workers.NewLivenessWorker(battleService).Start(ctx)
	workers.NewForfeitWorker(battleService).Start(ctx)

	handlers.SetupBattleRoutes(app, battleService, matchingService, voteService)
	handlers.SetupFeedRoutes(app, feedService, battleService)
	handlers.SetupUserRoutes(app, userService)
	handlers.SetupBeatRoutes(app, db)
	handlers.SetupVideoRoutes(app, videoService)
	handlers.SetupEventRoutes(app, hub, authClient, db)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Matching sweep + voting close scheduler running")
	log.Println("✅ Liveness and forfeit workers running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
