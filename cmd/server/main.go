package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"webchat/commands"
	"webchat/infrastructure/ws"
	"webchat/internal"
	"webchat/moderation"
	"webchat/observability"
	"webchat/repositories"
	"webchat/runtime"
	"webchat/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Storage (BadgerDB + Bluge index)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	// Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	index, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge index...")
		_ = index.Close()
	}()

	// 3. Repositories & Services
	userRepository := repositories.NewUserRepository(db)
	messageRepository, err := repositories.NewMessageRepository(db, index, log, config.ReplayLimit)
	if err != nil {
		return fmt.Errorf("message repository init failed: %w", err)
	}
	defer messageRepository.Close()

	authService := services.NewAuthService(userRepository, config.AuthTokenDuration)

	censoredData, err := moderation.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	replacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return err
	}
	moderator, err := moderation.NewModerator(censoredData.Words, replacement)
	if err != nil {
		return fmt.Errorf("moderator init failed: %w", err)
	}
	log.Info("Moderation ready", "words", len(censoredData.Words), "languages", censoredData.Languages)

	// 4. Hub, Supervision & Monitoring
	monitor := observability.NewMonitor(log, config.MetricInterval)
	processor := commands.NewProcessor(log, messageRepository, config.SearchLimit)
	registry := runtime.NewRegistry()
	hub := runtime.NewHub(log, registry, messageRepository, processor, &moderator, monitor, config.BufferSize)

	sup := runtime.NewSupervisor(log, config.RestartInterval)
	sup.Add(hub, monitor)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 6. HTTP & Websocket Servers
	internal.StartDebugServer(log, db, monitor, config.DebugPort)

	wsServer := ws.NewServer(log, hub, authService, config.ConnectionBufferSize, config.MaxPayloadBytes)
	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer.Handler(ctx))

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}

	// Use an error channel to capture Serve() issues
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
