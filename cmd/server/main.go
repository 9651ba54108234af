package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/reverie-gm/reverie/internal/api/handlers"
	"github.com/reverie-gm/reverie/internal/api/middleware"
	"github.com/reverie-gm/reverie/internal/archive"
	"github.com/reverie-gm/reverie/internal/compaction"
	"github.com/reverie-gm/reverie/internal/config"
	"github.com/reverie-gm/reverie/internal/crypto"
	"github.com/reverie-gm/reverie/internal/logger"
	"github.com/reverie-gm/reverie/internal/narrator"
	"github.com/reverie-gm/reverie/internal/server"
	"github.com/reverie-gm/reverie/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	// Set Gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open the history archive
	logger.Infof("Opening archive database: %s", cfg.ArchiveDBPath)
	archiveStore, err := archive.Open(cfg.ArchiveDBPath, crypto.DeriveSealKey(cfg.MasterSecret))
	if err != nil {
		logger.Errorf("Failed to open archive database: %v", err)
		os.Exit(1)
	}
	defer archiveStore.Close()

	// Narrator: live when an API key is present, scripted otherwise
	var executor narrator.Executor
	var summarizer narrator.Summarizer
	if cfg.AnthropicAPIKey != "" {
		live := narrator.NewAnthropicNarrator(cfg.AnthropicAPIKey, cfg.NarratorModel)
		executor = live
		summarizer = live
	} else {
		logger.Warnf("ANTHROPIC_API_KEY not set - using the scripted narrator")
		scripted := &narrator.Scripted{SummaryText: "The adventure continues."}
		executor = scripted
		summarizer = scripted
	}

	// Adventure store with background compaction
	logger.Infof("Opening adventure store: %s", cfg.DataDir)
	adventureStore, err := store.New(store.Options{
		BaseDir:             cfg.DataDir,
		CompactionThreshold: cfg.CompactionThreshold,
		CompactionRetain:    cfg.CompactionRetain,
		Compactor:           compaction.New(archiveStore, summarizer),
	})
	if err != nil {
		logger.Errorf("Failed to open adventure store: %v", err)
		os.Exit(1)
	}

	// Initialize the ticket manager
	logger.Infof("Initializing ticket manager...")
	tickets, err := crypto.NewTicketManager(cfg.MasterSecret, 0)
	if err != nil {
		logger.Errorf("Failed to create ticket manager: %v", err)
		os.Exit(1)
	}

	// Session server
	sessionServer := server.NewServer(adventureStore, executor, summarizer, tickets, cfg.TurnTimeout)

	// Create Gin router
	router := gin.Default()

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Logging middleware
	router.Use(middleware.LoggingMiddleware())

	// Root endpoint - returns plain text for client validation
	router.GET("/", func(c *gin.Context) {
		c.String(200, "Welcome to Reverie!")
	})

	// Initialize handlers
	adventureHandler := handlers.NewAdventureHandler(adventureStore, archiveStore, tickets)
	authHandler := handlers.NewAuthHandler(adventureStore, tickets)
	healthHandler := handlers.NewHealthHandler(sessionServer)

	// Public routes (no auth required)
	v1 := router.Group("/v1")
	{
		v1.GET("/health", healthHandler.GetHealth)
		v1.POST("/adventures", adventureHandler.CreateAdventure)
		v1.POST("/auth", authHandler.PostTicket)
	}

	// Protected routes (bearer session token required)
	protected := v1.Group("")
	protected.Use(middleware.BearerAuth())
	{
		protected.GET("/adventures/:id", adventureHandler.GetAdventure)
		protected.GET("/adventures/:id/archive", adventureHandler.GetArchive)
	}

	// Session websocket; authentication happens in-band after the handshake
	router.GET("/v1/session", sessionServer.HandleSession)

	// Start HTTP server
	logger.Infof("Reverie starting on http://localhost%s", cfg.Addr)
	logger.Infof("Adventure store: %s", cfg.DataDir)
	logger.Infof("Archive: %s", archiveStore.Path())

	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
