// Command migrate runs one full migration: it starts the worker pools
// in-process, executes the orchestrated step sequence and exits with the
// run outcome.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formsync/internal/calsync"
	"formsync/internal/config"
	"formsync/internal/credentials"
	"formsync/internal/extract"
	"formsync/internal/google"
	"formsync/internal/logging"
	"formsync/internal/metrics"
	"formsync/internal/migration"
	"formsync/internal/notify"
	"formsync/internal/queue"
	"formsync/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.WithComponent(baseLogger, "migrate-main")

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := buildRouter(ctx, cfg, st, baseLogger)
	if err != nil {
		return err
	}
	metrics.Register()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	router.Start(workerCtx)

	orchestrator := migration.NewOrchestrator(st, router, logger)
	result, runErr := orchestrator.Run(ctx)

	cancelWorkers()
	router.Wait()

	if result != nil {
		printRun(result.ID, result.Status, result.ValidationReport)
	}
	if runErr != nil {
		return fmt.Errorf("migration run failed: %w", runErr)
	}
	return nil
}

func printRun(id, status string, report *string) {
	out := map[string]interface{}{"run_id": id, "status": status}
	if report != nil {
		out["validation_report"] = json.RawMessage(*report)
	}
	encoded, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(encoded))
}

func buildRouter(ctx context.Context, cfg *config.Config, st *store.Store, logger zerolog.Logger) (*queue.Router, error) {
	manager := credentials.NewManager(st, credentials.NewOAuth2Refresher(), cfg.Google.CredentialName, logger)
	tokenSource := manager.TokenSource(ctx, google.Scopes)

	calSvc, err := google.NewCalendarService(ctx, tokenSource)
	if err != nil {
		return nil, err
	}
	calLimiter := google.NewRateLimiter(cfg.Google.CalendarRPS, cfg.Google.RateBurst)
	provider := calsync.NewGoogleProvider(calSvc, cfg.Google.CalendarID, calLimiter, logger)
	engine := calsync.NewEngine(st, provider, logger)

	source, documentID, err := buildSource(ctx, cfg, tokenSource, logger)
	if err != nil {
		return nil, err
	}

	registry := queue.NewRegistry()
	handlers := migration.NewHandlers(st, source, engine, documentID, cfg.Location(), logger)
	if err := handlers.Register(registry, cfg.Queues); err != nil {
		return nil, err
	}

	var notifier queue.Notifier
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.OperatorChatID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			notifier = tg
		}
	}

	redisClient := queue.NewRedisClient(cfg.Redis)
	if redisClient != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := queue.Ping(pingCtx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, using db polling only")
			redisClient = nil
		}
	}

	return queue.NewRouter(st, redisClient, registry, cfg.Queues, notifier, logger), nil
}

func buildSource(ctx context.Context, cfg *config.Config, tokenSource oauth2.TokenSource, logger zerolog.Logger) (extract.Source, string, error) {
	if cfg.Migration.Source == "xlsx" {
		return extract.NewXLSXSource(cfg.Migration.XLSXPath, logger), cfg.Migration.XLSXPath, nil
	}

	sheetsSvc, err := google.NewSheetsService(ctx, tokenSource)
	if err != nil {
		return nil, "", err
	}
	limiter := google.NewRateLimiter(cfg.Google.SheetsRPS, cfg.Google.RateBurst)
	return extract.NewSheetsSource(sheetsSvc, limiter, logger), cfg.Google.SpreadsheetID, nil
}
