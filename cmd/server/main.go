package main

import (
	"collab-script-editor/internal/comment"
	"collab-script-editor/internal/config"
	"collab-script-editor/internal/db"
	"collab-script-editor/internal/document"
	"collab-script-editor/internal/editlock"
	"collab-script-editor/internal/middleware"
	"collab-script-editor/internal/mutation"
	"collab-script-editor/internal/user"
	"collab-script-editor/internal/worker"
	"collab-script-editor/redis"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Seed database with initial data (for development)
	db.SeedData()

	// Initialize Redis (cache + realtime); nil client degrades gracefully
	redisClient := redis.NewClient(config.AppConfig.RedisAddress)
	cache := redis.NewCache(redisClient)

	// Background workers for position write-backs and cache fills
	pool := worker.NewWorkerPool(4, 1000)

	// Initialize repositories
	userRepo := user.NewRepository(db.AppDb)
	docRepo := document.NewRepository(db.AppDb)
	commentRepo := comment.NewRepository(db.AppDb)

	// Initialize services
	userService := user.NewService(userRepo)
	profiles := user.NewProfileCache(userService)
	docService := document.NewService(docRepo, cache, config.AppConfig.CacheTTL)
	commentService := comment.NewService(
		commentRepo,
		docService,
		comment.NewRedisPublisher(redisClient),
		pool,
		config.AppConfig.PositionSyncQuiet,
	)

	// Mutation coordinator: save status tracking + optimistic status changes
	coordinator := mutation.NewCoordinator(docService, cache, mutation.NewStatusStore(), config.AppConfig.CacheTTL)

	// Edit lock plumbing
	lockRealtime := editlock.NewRedisRealtime(redisClient)
	lockStore := editlock.NewGormStore(db.AppDb, lockRealtime)
	lockRegistry := editlock.NewRegistry(lockStore, lockRealtime, profiles, editlock.Config{
		VerifyAttempts:    config.AppConfig.LockVerifyAttempts,
		VerifyInterval:    config.AppConfig.LockVerifyInterval,
		HeartbeatInterval: config.AppConfig.LockHeartbeatInterval,
		DeleteDebounce:    config.AppConfig.LockDeleteDebounce,
	})

	// Initialize handlers
	userHandler := user.NewHandler(userService)
	docHandler := document.NewHandler(docService, coordinator, lockRegistry)
	commentHandler := comment.NewHandler(commentService)
	lockHandler := editlock.NewHandler(lockRegistry, lockStore)

	// Initialize Gin router
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	authMiddleware := (&middleware.Auth{UserService: userService}).AuthMiddleWare()

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.DELETE("/logout", authMiddleware, userHandler.Logout)
	router.GET("/profile", authMiddleware, userHandler.GetProfile)

	// Document routes
	router.POST("/documents", authMiddleware, docHandler.Create)
	router.GET("/projects/:projectId/documents", authMiddleware, docHandler.ShowProjectDocuments)
	router.GET("/documents/:id", authMiddleware, docHandler.Show)
	router.PATCH("/documents/:id", authMiddleware, docHandler.Save)
	router.GET("/documents/:id/save-status", authMiddleware, docHandler.SaveStatus)
	router.POST("/documents/:id/unsaved", authMiddleware, docHandler.MarkUnsaved)
	router.PUT("/documents/:id/status", authMiddleware, docHandler.ChangeStatus)
	router.DELETE("/documents/:id", authMiddleware, docHandler.Delete)

	// Edit lock routes
	router.POST("/documents/:id/lock", authMiddleware, lockHandler.Acquire)
	router.GET("/documents/:id/lock", authMiddleware, lockHandler.Show)
	router.PUT("/documents/:id/lock", authMiddleware, lockHandler.Heartbeat)
	router.DELETE("/documents/:id/lock", authMiddleware, lockHandler.Release)
	router.DELETE("/documents/:id/lock/force", authMiddleware, lockHandler.ForceRelease)

	// Comment routes
	router.POST("/documents/:id/comments", authMiddleware, commentHandler.Create)
	router.GET("/documents/:id/comments", authMiddleware, commentHandler.List)
	router.PUT("/documents/:id/comments/:commentId", authMiddleware, commentHandler.Update)
	router.PUT("/documents/:id/comments/:commentId/resolve", authMiddleware, commentHandler.Resolve)
	router.DELETE("/documents/:id/comments/:commentId", authMiddleware, commentHandler.Delete)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	// Release held edit locks and drain background work before exit
	lockRegistry.CloseAll(ctx)
	commentService.Shutdown()
	pool.Shutdown()

	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Server shutdown complete")
}
