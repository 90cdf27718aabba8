// Command server runs the support-bot HTTP service: the web chat API, the
// Twilio WhatsApp and voice webhooks, and the agent-facing endpoints.
//
// Startup order: env (.env optional) → config → logging → tracing → database
// → external collaborators (Twilio, OpenAI) → router → HTTP server with
// graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finvola/go-support-backend/internal/bot"
	"github.com/finvola/go-support-backend/internal/config"
	"github.com/finvola/go-support-backend/internal/escalation"
	httpapi "github.com/finvola/go-support-backend/internal/http"
	"github.com/finvola/go-support-backend/internal/http/handlers"
	"github.com/finvola/go-support-backend/internal/llm"
	"github.com/finvola/go-support-backend/internal/messaging"
	"github.com/finvola/go-support-backend/internal/observability"
	"github.com/finvola/go-support-backend/internal/otp"
	"github.com/finvola/go-support-backend/internal/repo"
	"github.com/finvola/go-support-backend/internal/resolver"
	"github.com/finvola/go-support-backend/internal/session"
	"github.com/finvola/go-support-backend/internal/sysutil"
	"github.com/finvola/go-support-backend/internal/ticketing"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is a dev convenience; absence is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting support backend")

	ctx := context.Background()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Database
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// External collaborators
	sender, err := messaging.NewSender(
		messaging.WithAccountSID(cfg.Twilio.AccountSID),
		messaging.WithAuthToken(cfg.Twilio.AuthToken),
		messaging.WithSMSFrom(cfg.Twilio.SMSFrom),
		messaging.WithWhatsAppFrom(cfg.Twilio.WhatsAppFrom),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("twilio messaging setup failed")
	}

	tickets, err := ticketing.NewClient(ticketing.Config{
		AccountSID:          cfg.Twilio.AccountSID,
		AuthToken:           cfg.Twilio.AuthToken,
		ConversationService: cfg.Twilio.ConversationService,
		Workspace:           cfg.Twilio.TaskRouterWorkspace,
		Workflow:            cfg.Twilio.TaskRouterWorkflow,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("twilio ticketing setup failed")
	}

	collab, err := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	if err != nil {
		log.Fatal().Err(err).Msg("openai setup failed")
	}

	// Application core
	sessions := session.NewStore(cfg.SessionTTL)
	ledger := otp.NewLedger(sender)
	res := resolver.New(db)
	coordinator := escalation.NewCoordinator(db, collab, tickets)
	machine := bot.NewMachine(db, sessions, ledger, res, collab, coordinator)

	// HTTP
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, httpapi.Deps{
		Bot: machine,
		Voice: handlers.VoiceDeps{
			Ticketing:   tickets,
			Notifier:    sender,
			AgentNumber: cfg.Twilio.AgentNumber,
		},
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("listening")

	// Graceful shutdown on SIGINT/SIGTERM.
	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	log.Info().Msg("stopped")
}
