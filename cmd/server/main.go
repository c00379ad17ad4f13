package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/collabworks/officechat/internal/config"
	"github.com/collabworks/officechat/internal/handler"
	"github.com/collabworks/officechat/internal/middleware"
	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/internal/repository"
	"github.com/collabworks/officechat/internal/service"
	"github.com/collabworks/officechat/internal/ws"
	"github.com/collabworks/officechat/migrations"
	"github.com/collabworks/officechat/pkg/auth"
	"github.com/collabworks/officechat/pkg/notification"
	"github.com/collabworks/officechat/pkg/storage"
)

// @title           OfficeChat API
// @version         1.0
// @description     Real-time chat, presence, and room broadcast engine with Go, Gin, WebSocket, Redis Pub/Sub.

// @contact.name   API Support
// @contact.email  support@officechat.local

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      api.localhost
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// ==================== Load Config ====================
	cfg := config.Load()
	log.Printf("starting OfficeChat API server [env=%s]", cfg.App.Env)

	// ==================== Database (PostgreSQL) ====================
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.App.Env == "production" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Println("connected to PostgreSQL")

	// ==================== Run Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("migration warning: %v", err)
		log.Println("falling back to GORM AutoMigrate")
		if err := db.AutoMigrate(
			&model.User{},
			&model.UserDevice{},
			&model.Room{},
			&model.RoomMember{},
			&model.Message{},
			&model.ReadReceipt{},
			&model.MessageReaction{},
		); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}
	log.Println("database migrated")

	// ==================== Redis ====================
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("connected to Redis")

	// ==================== Initialize Layers ====================
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	userRepo := repository.NewUserRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	roomService := service.NewRoomService(roomRepo, msgRepo, userRepo)
	messageService := service.NewMessageService(msgRepo, roomService)

	notifier, err := notification.NewService(cfg.Firebase.CredentialsFile, userRepo)
	if err != nil {
		log.Printf("notification service unavailable: %v", err)
	}

	// WebSocket hub (Redis Pub/Sub carries events across instances). The
	// presence callback is wired through the ws handler, which is built
	// after the hub; the indirection breaks the construction cycle.
	var wsHandler *handler.WSHandler
	hub := ws.NewHub(rdb, func(userID uuid.UUID, online bool) {
		wsHandler.HandlePresenceChange(userID, online)
	})

	wsHandler = handler.NewWSHandler(hub, roomService, messageService, userRepo, notifier, jwtManager)
	hub.SetRoomDepartureHandler(wsHandler.HandleRoomDeparture)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// MinIO attachment storage
	mediaStore, err := storage.NewMediaStore(storage.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		PublicURL: cfg.MinIO.PublicURL,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	var objectStore storage.ObjectStore
	if err != nil {
		log.Printf("MinIO not available: %v (file upload disabled)", err)
	} else {
		log.Println("connected to MinIO")
		objectStore = mediaStore
	}

	chatHandler := handler.NewChatHandler(roomService, messageService, userRepo, hub, wsHandler)
	uploadHandler := handler.NewUploadHandler(objectStore)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Serve swagger.json at /docs/swagger.json to avoid conflict with the
	// /swagger/* wildcard.
	router.StaticFile("/docs/swagger.json", "./docs/swagger.json")
	url := ginSwagger.URL("/docs/swagger.json")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, url))

	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "officechat-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// ==================== API Routes ====================
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtManager, rdb))
	{
		// Rooms
		api.GET("/rooms", chatHandler.ListRooms)
		api.POST("/rooms", chatHandler.CreateRoom)
		api.POST("/rooms/direct", chatHandler.GetOrCreateDirect)
		api.GET("/rooms/:id", chatHandler.GetRoom)
		api.POST("/rooms/:id/join", chatHandler.JoinRoom)
		api.POST("/rooms/:id/archive", chatHandler.ArchiveRoom)
		api.DELETE("/rooms/:id/archive", chatHandler.UnarchiveRoom)

		// Membership
		api.POST("/rooms/:id/members", chatHandler.AddMember)
		api.DELETE("/rooms/:id/members/:userID", chatHandler.RemoveMember)
		api.PATCH("/rooms/:id/members/:userID/role", chatHandler.SetMemberRole)

		// Messages
		api.GET("/rooms/:id/messages", chatHandler.GetMessages)
		api.POST("/rooms/:id/messages", chatHandler.SendMessage)
		api.GET("/rooms/:id/messages/search", chatHandler.SearchMessages)
		api.POST("/rooms/:id/read", chatHandler.MarkRoomRead)
		api.POST("/messages/:id/read", chatHandler.MarkMessageRead)
		api.PATCH("/messages/:id", chatHandler.EditMessage)
		api.DELETE("/messages/:id", chatHandler.DeleteMessage)
		api.POST("/messages/:id/reactions", chatHandler.AddReaction)
		api.DELETE("/messages/:id/reactions", chatHandler.RemoveReaction)

		// Devices
		api.GET("/presence/online", chatHandler.OnlineUsers)
		api.POST("/devices", chatHandler.RegisterDevice)

		// Upload
		api.POST("/upload", uploadHandler.UploadFile)
		api.POST("/upload/multiple", uploadHandler.UploadMultiple)
	}

	// WebSocket endpoint (auth via query parameter)
	router.GET("/ws", wsHandler.HandleWebSocket)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	log.Printf("OfficeChat API running on http://0.0.0.0:%s", cfg.App.Port)
	log.Printf("API docs: http://0.0.0.0:%s/swagger/index.html", cfg.App.Port)
	log.Printf("WebSocket: ws://0.0.0.0:%s/ws?token=<jwt>", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	hubCancel()
	log.Println("server exited")
}
