package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/tradelog/backend/src/bridge"
	"github.com/username/tradelog/backend/src/config"
	"github.com/username/tradelog/backend/src/database"
	"github.com/username/tradelog/backend/src/handlers"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/security"
	"github.com/username/tradelog/backend/src/services"
	"github.com/username/tradelog/backend/src/storage"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Tradelog backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	statusCache := cache.New(15*time.Minute, 30*time.Minute)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	tradeStore := storage.NewTradeStore(database.DB)
	connectionStore := storage.NewConnectionStore(database.DB)

	var notifier bridge.Notifier
	if emailNotifier := services.NewEmailNotifierFromConfig(); emailNotifier != nil {
		notifier = emailNotifier
	}

	bridgeClient := bridge.NewClient(config.Cfg.BridgeBaseURL, config.Cfg.BridgeAPIToken)
	bridgeService := bridge.NewService(bridgeClient, connectionStore, tradeStore, statusCache, notifier, bridge.ServiceConfig{
		ImportWindowDays:   config.Cfg.ImportWindowDays,
		DeployPollInterval: config.Cfg.DeployPollInterval,
		DeployTimeout:      config.Cfg.DeployTimeout,
		UpsertBatchSize:    config.Cfg.UpsertBatchSize,
	})

	importService := services.NewFileImportService(tradeStore, config.Cfg.MaxTradesPerUser, config.Cfg.UpsertBatchSize)

	uploadHandler := handlers.NewUploadHandler(importService)
	bridgeHandler := handlers.NewBridgeHandler(bridgeService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	withAuth := func(handler http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(authService, handler)
	}

	apiRouter.Handle("POST /api/import/file", withAuth(uploadHandler.HandleUpload))
	apiRouter.Handle("GET /api/trades", withAuth(uploadHandler.HandleGetTrades))
	apiRouter.Handle("POST /api/bridge/connect", withAuth(bridgeHandler.HandleConnect))
	apiRouter.Handle("POST /api/bridge/import", withAuth(bridgeHandler.HandleImport))
	apiRouter.Handle("GET /api/bridge/status", withAuth(bridgeHandler.HandleStatus))
	apiRouter.Handle("DELETE /api/bridge/connections/{id}", withAuth(bridgeHandler.HandleDisconnect))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Tradelog backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
