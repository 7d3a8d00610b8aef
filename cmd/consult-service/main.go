package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	chatHandler "consultlink-backend/internal/handler/http/chat"
	healthHandler "consultlink-backend/internal/handler/http/health"
	sessionHandler "consultlink-backend/internal/handler/http/session"
	wsHandler "consultlink-backend/internal/handler/ws"
	"consultlink-backend/internal/jobs"
	"consultlink-backend/internal/middleware"
	"consultlink-backend/internal/relay"
	cassandraRepo "consultlink-backend/internal/repository/cassandra"
	"consultlink-backend/internal/repository/cockroach"
	redisRepo "consultlink-backend/internal/repository/redis"
	chatService "consultlink-backend/internal/service/chat"
	sessionService "consultlink-backend/internal/service/session"
	"consultlink-backend/pkg/config"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/database"
	"consultlink-backend/pkg/jwt"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
)

// dbPoolThreshold is the share of acquired connections above which requests are shed
const dbPoolThreshold = 0.9

func main() {
	// .env is optional; real deployments inject the environment
	_ = godotenv.Load()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// 2. Connect to CockroachDB, Cassandra and Redis
	db, err := database.Connect(ctx, "cockroachdb", database.DefaultRetryPolicy,
		func(ctx context.Context) (*database.CockroachDB, error) {
			return database.NewCockroachDB(ctx, &database.CockroachConfig{
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				Database: cfg.Database.Database,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: int32(cfg.Database.MaxConns),
				MinConns: int32(cfg.Database.MinConns),
			})
		})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()

	cassandraDB, err := database.Connect(ctx, "cassandra", database.DefaultRetryPolicy,
		func(ctx context.Context) (*database.CassandraDB, error) {
			return database.NewCassandraDB(&database.CassandraConfig{
				Hosts:    cfg.Cassandra.Hosts,
				Keyspace: cfg.Cassandra.Keyspace,
				Username: cfg.Cassandra.Username,
				Password: cfg.Cassandra.Password,
				Timeout:  cfg.Cassandra.Timeout,
			})
		})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()

	redisDB, err := database.Connect(ctx, "redis", database.DefaultRetryPolicy,
		func(ctx context.Context) (*database.RedisDB, error) {
			return database.NewRedisDB(ctx, &database.RedisConfig{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
				Timeout:  cfg.Redis.Timeout,
			})
		})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	// 3. Initialize Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 4. Initialize Repositories
	appointmentRepo := cockroach.NewAppointmentRepository(db.Pool)
	sessionRepo := cockroach.NewSessionRepository(db.Pool)
	messageRepo := cassandraRepo.NewChatRepository(cassandraDB.Session)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client, cfg.Relay.PresenceTTL)
	revocationRepo := redisRepo.NewRevocationRepository(redisDB.Client)

	// 5. Initialize Services. The chat service learns about the relay once it exists.
	sessionSvc := sessionService.NewService(appointmentRepo, sessionRepo, appMetrics)
	chatSvc := chatService.NewService(appointmentRepo, messageRepo, nil, appMetrics)

	signalingRelay := relay.NewRelay(relay.NewRegistry(), sessionSvc, chatSvc, appMetrics).
		WithPresence(presenceRepo)
	chatSvc.SetBroadcaster(signalingRelay)

	hub := wsHandler.NewSignalingHub(signalingRelay, wsHandler.HubConfig{
		MaxConnections:  cfg.Relay.MaxConnections,
		SendBuffer:      cfg.Relay.SendBuffer,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		PingInterval:    cfg.Relay.PingInterval,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, appMetrics)

	// 6. Initialize Authentication
	authenticator := middleware.NewAuthenticator(
		jwt.NewJWTManager(cfg.JWT.PatientSecret, jwt.IssuerPatient, constants.TokenLifetime),
		jwt.NewJWTManager(cfg.JWT.DoctorSecret, jwt.IssuerDoctor, constants.TokenLifetime),
		revocationRepo,
	)
	chatLimiter := middleware.NewRateLimiter(redisDB.Client, "chat_send",
		cfg.RateLimit.ChatRequests, cfg.RateLimit.ChatWindow, appMetrics)

	// 7. Initialize Handlers
	sessionHdlr := sessionHandler.NewHandler(sessionSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc)
	healthHdlr := healthHandler.NewHandler(cfg.Server.ServiceName, hub.Connections).
		Register("cockroach", db.Ping).
		Register("cassandra", cassandraDB.Ping).
		Register("redis", redisDB.Ping)

	// 8. Setup Gin Router
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", healthHdlr.Health)
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// The websocket upgrade must not run under the request timeout
	router.GET("/ws", middleware.WebSocketAuthMiddleware(authenticator), hub.ServeWS)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(authenticator))
	api.Use(middleware.Timeout(constants.DefaultTimeout))
	api.Use(middleware.DBPoolGuard(db.Pool, dbPoolThreshold))
	{
		sessions := api.Group("/session")
		{
			sessions.POST("/create", sessionHdlr.CreateSession)
			sessions.POST("/end", sessionHdlr.EndSession)
			sessions.GET("/:appointmentId", sessionHdlr.GetSession)
		}

		chats := api.Group("/chat")
		{
			chats.POST("/send", chatLimiter.Middleware(), chatHdlr.SendMessage)
			chats.GET("/history/:appointmentId", chatHdlr.GetHistory)
		}
	}

	// 9. Start maintenance jobs
	scheduler, err := jobs.NewScheduler(cfg.Jobs, jobs.Dependencies{
		Sessions: sessionSvc,
		Counter:  sessionRepo,
		Rooms:    signalingRelay.Registry(),
		Pool:     db.Pool,
	}, appMetrics)
	if err != nil {
		logger.Fatal("Failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()

	// 10. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Consultation service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.String("websocket", "/ws"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Jobs still running at shutdown")
	}
	signalingRelay.Close()

	logger.Info("Server exited")
}
