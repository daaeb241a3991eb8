package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sethvargo/go-password/password"
	"gopkg.in/natefinch/lumberjack.v2"

	"quasarr/api"
	"quasarr/config"
	"quasarr/handlers"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/services/categories"
	"quasarr/services/download"
	"quasarr/services/flaresolverr"
	"quasarr/services/jdownloader"
	"quasarr/services/metadata"
	"quasarr/services/notify"
	"quasarr/services/packages"
	"quasarr/services/protected"
	"quasarr/services/search"
	"quasarr/services/sessions"
	"quasarr/services/sites"
	"quasarr/services/stats"
	"quasarr/services/update"
)

const version = "1.0.0"

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Printf("🚀 Quasarr %s starting...\n", version)

	// Determine config path (env or default)
	configPath := os.Getenv("QUASARR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("config", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate the API key on first start. *arr clients and the sponsor
	// helper authenticate with it, so it has to exist before the router does.
	settings.API.Key = strings.TrimSpace(settings.API.Key)
	if settings.API.Key == "" {
		key, err := handlers.GenerateAPIKey()
		if err != nil {
			log.Fatalf("failed to generate api key: %v", err)
		}
		settings.API.Key = key
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated api key: %v", err)
		}
		fmt.Println("🔑 Generated a new API key.")
	}
	fmt.Printf("🔑 Quasarr API key: %s\n", settings.API.Key)

	// UI auth enabled without a password gets a generated one, printed once.
	if settings.Server.AuthMode != "" && settings.Server.AuthPass == "" {
		pass, err := password.Generate(16, 4, 0, false, false)
		if err != nil {
			log.Fatalf("failed to generate auth password: %v", err)
		}
		settings.Server.AuthPass = pass
		if settings.Server.AuthUser == "" {
			settings.Server.AuthUser = "admin"
		}
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated auth password: %v", err)
		}
		fmt.Printf("🔐 Generated UI credentials: %s / %s\n", settings.Server.AuthUser, pass)
	}

	// Open the store next to the config file
	dbPath := filepath.Join(filepath.Dir(configPath), "quasarr.db")
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", dbPath, err)
	}
	defer db.Close()

	internalAddress := settings.Server.InternalAddress
	if internalAddress == "" {
		internalAddress = fmt.Sprintf("http://localhost:%d", settings.Server.Port)
	}
	registry := state.NewRegistry()
	registry.SetAddresses(internalAddress, settings.Server.ExternalAddress)

	// Shared collaborators
	solver := flaresolverr.NewClient(settings.FlareSolverr.URL)
	sessionStore := sessions.NewService(db)
	siteRegistry := sites.NewRegistry()
	siteRegistry.MustRegister(sites.NewNX())
	siteRegistry.MustRegister(sites.NewDW())

	env := &sites.Env{
		Store:    db,
		State:    registry,
		Sessions: sessionStore,
		Solver:   solver,
		Settings: cfgManager.Load,
	}

	// Services
	categoryService := categories.NewService(db)
	statsService := stats.NewService(db)
	notifyService := notify.NewService(settings.Server.DiscordWebhook, settings.Server.Silent)
	protectedService := protected.NewService(db)
	jdManager := jdownloader.NewManager(settings.JDownloader.Email, settings.JDownloader.Pass, settings.JDownloader.Device)
	downloadService := download.NewService(protectedService, jdManager, siteRegistry, env, categoryService, statsService, notifyService, registry)
	packageService := packages.NewService(jdManager, protectedService)
	searchService := search.NewService(siteRegistry, env, categoryService, metadata.NewService(db, registry))
	updateService := update.NewService(version, db, notifyService)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfgManager)
	indexerHandler := handlers.NewIndexerHandler(searchService, categoryService, registry, version)
	sabnzbdHandler := handlers.NewSabnzbdHandler(siteRegistry, downloadService, packageService, categoryService, jdManager, version)
	router := api.NewRouter(api.Handlers{
		Auth:       authHandler,
		API:        handlers.NewAPIHandler(indexerHandler, sabnzbdHandler),
		Download:   handlers.NewDownloadHandler(siteRegistry),
		Captcha:    handlers.NewCaptchaHandler(protectedService, downloadService, packageService, categoryService, statsService, registry),
		Cutcaptcha: handlers.NewCutcaptchaHandler(),
		Helper:     handlers.NewHelperHandler(cfgManager, protectedService, downloadService, registry),
		Admin:      handlers.NewAdminHandler(cfgManager, db, registry, statsService, jdManager, version),
	})

	// Background supervisors
	supervisorCtx, stopSupervisors := context.WithCancel(context.Background())
	var supervisors sync.WaitGroup

	supervisors.Add(1)
	go func() {
		defer supervisors.Done()
		flaresolverr.Check(supervisorCtx, solver, registry)
	}()

	if settings.JDownloader.Email != "" {
		supervisors.Add(1)
		go func() {
			defer supervisors.Done()
			jdManager.Run(supervisorCtx)
		}()
	} else {
		log.Printf("[main] JDownloader not configured, download submission disabled")
	}

	supervisors.Add(1)
	go func() {
		defer supervisors.Done()
		updateService.Run(supervisorCtx)
	}()

	addr := fmt.Sprintf(":%d", settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	stopSupervisors()
	supervisors.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
