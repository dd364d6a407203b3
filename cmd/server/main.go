package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nkresic/strand/internal/config"
	"github.com/nkresic/strand/internal/database"
	postgresrepo "github.com/nkresic/strand/internal/repository/postgres"
	"github.com/nkresic/strand/internal/service"
	"github.com/nkresic/strand/internal/storage"
	"github.com/nkresic/strand/internal/transport/http/handlers"
	"github.com/nkresic/strand/internal/transport/http/middleware"
	"github.com/nkresic/strand/internal/transport/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := config.Load()

	// Database
	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()
	log.Println("Connected to redis")

	// Repositories
	userRepo := postgresrepo.NewUserRepo(pool)
	chatRepo := postgresrepo.NewChatRepo(pool)
	membershipRepo := postgresrepo.NewMembershipRepo(pool)
	messageRepo := postgresrepo.NewMessageRepo(pool)
	notificationRepo := postgresrepo.NewNotificationRepo(pool)

	store := storage.NewDiskStore(cfg.UploadDir)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	userService := service.NewUserService(userRepo)
	presenceService := service.NewPresenceService(rdb, userRepo)
	chatService := service.NewChatService(chatRepo, membershipRepo, userRepo, notificationRepo)
	messageService := service.NewMessageService(messageRepo, chatRepo, membershipRepo, userRepo, notificationRepo, store)
	notificationService := service.NewNotificationService(notificationRepo)

	// WebSocket hub and the change feed
	hub := ws.NewHub(presenceService)
	go hub.Run()

	// Reconcile expired heartbeat keys so hidden clients go offline even
	// while their connection stays open.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go presenceService.RunSweeper(sweepCtx)

	notifier := ws.NewFeedNotifier(hub)
	userService.SetNotifier(notifier)
	presenceService.SetNotifier(notifier)
	chatService.SetNotifier(notifier)
	messageService.SetNotifier(notifier)
	notificationService.SetNotifier(notifier)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService, presenceService)
	chatHandler := handlers.NewChatHandler(chatService)
	messageHandler := handlers.NewMessageHandler(messageService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Change feed (token via query param)
	mux.HandleFunc("GET /api/v1/ws", ws.ServeWS(hub, membershipRepo, cfg.JWTSecret))

	// Protected - Users
	mux.Handle("GET /api/v1/users/me", auth(http.HandlerFunc(userHandler.Me)))
	mux.Handle("PATCH /api/v1/users/me/settings", auth(http.HandlerFunc(userHandler.UpdateSettings)))
	mux.Handle("POST /api/v1/users/me/heartbeat", auth(http.HandlerFunc(userHandler.Heartbeat)))
	mux.Handle("GET /api/v1/users/{id}/presence", auth(http.HandlerFunc(userHandler.Presence)))

	// Protected - Chats
	mux.Handle("POST /api/v1/chats", auth(http.HandlerFunc(chatHandler.Create)))
	mux.Handle("POST /api/v1/chats/personal", auth(http.HandlerFunc(chatHandler.FindOrCreatePersonal)))
	mux.Handle("POST /api/v1/chats/join", auth(http.HandlerFunc(chatHandler.Join)))
	mux.Handle("GET /api/v1/chats", auth(http.HandlerFunc(chatHandler.List)))
	mux.Handle("GET /api/v1/chats/{id}", auth(http.HandlerFunc(chatHandler.Get)))
	mux.Handle("PATCH /api/v1/chats/{id}", auth(http.HandlerFunc(chatHandler.UpdateInfo)))
	mux.Handle("PATCH /api/v1/chats/{id}/flags", auth(http.HandlerFunc(chatHandler.SetFlags)))
	mux.Handle("DELETE /api/v1/chats/{id}", auth(http.HandlerFunc(chatHandler.Delete)))
	mux.Handle("POST /api/v1/chats/{id}/leave", auth(http.HandlerFunc(chatHandler.Leave)))

	// Protected - Chat members
	mux.Handle("GET /api/v1/chats/{id}/members", auth(http.HandlerFunc(chatHandler.ListMembers)))
	mux.Handle("POST /api/v1/chats/{id}/members", auth(http.HandlerFunc(chatHandler.AddMember)))
	mux.Handle("PATCH /api/v1/chats/{id}/members/{userID}", auth(http.HandlerFunc(chatHandler.UpdateMember)))
	mux.Handle("DELETE /api/v1/chats/{id}/members/{userID}", auth(http.HandlerFunc(chatHandler.RemoveMember)))

	// Protected - Messages
	mux.Handle("POST /api/v1/chats/{id}/messages", auth(http.HandlerFunc(messageHandler.Send)))
	mux.Handle("GET /api/v1/chats/{id}/messages", auth(http.HandlerFunc(messageHandler.List)))
	mux.Handle("PATCH /api/v1/messages/{id}", auth(http.HandlerFunc(messageHandler.Edit)))
	mux.Handle("DELETE /api/v1/messages/{id}", auth(http.HandlerFunc(messageHandler.Delete)))

	// Protected - Notifications
	mux.Handle("GET /api/v1/notifications", auth(http.HandlerFunc(notificationHandler.Feed)))
	mux.Handle("POST /api/v1/notifications/{id}/read", auth(http.HandlerFunc(notificationHandler.MarkRead)))
	mux.Handle("POST /api/v1/notifications/read-all", auth(http.HandlerFunc(notificationHandler.MarkAllRead)))

	// Uploaded media
	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.UploadDir))))

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: middleware.CORS(mux),
	}

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
