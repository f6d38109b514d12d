package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/config"
	"github.com/Marraneitor/BOTLY/internal/ai"
	"github.com/Marraneitor/BOTLY/internal/api"
	"github.com/Marraneitor/BOTLY/internal/authstore"
	"github.com/Marraneitor/BOTLY/internal/dedup"
	"github.com/Marraneitor/BOTLY/internal/entitlement"
	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/pipeline"
	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/session"
	"github.com/Marraneitor/BOTLY/internal/store"
	"github.com/Marraneitor/BOTLY/internal/transport"
	"github.com/Marraneitor/BOTLY/pkg/logger"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBDialect, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	tenants := store.NewTenantStore(db, cfg.ConfigCacheTTL)
	messages := store.NewMessageStore(db)

	dd := dedup.New(cfg.DedupWindow, nil)
	go dd.Run(ctx)

	var sinks []notify.Sink
	if cfg.GlobalWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.GlobalWebhookURL, cfg.WebhookFormat))
		log.Info().Str("url", cfg.GlobalWebhookURL).Msg("Global webhook sink enabled")
	}
	if cfg.AMQPURL != "" {
		rabbit, err := notify.DialRabbit(cfg.AMQPURL, cfg.AMQPQueuePrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		defer rabbit.Close()
		sinks = append(sinks, rabbit)
		log.Info().Msg("RabbitMQ sink enabled")
	}
	hub := notify.NewHub(sinks...)

	var responder ai.Responder
	var memory api.ConversationMemory
	if cfg.GeminiAPIKey != "" {
		gemini := ai.NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel)
		responder, memory = gemini, gemini
		log.Info().Str("model", cfg.GeminiModel).Msg("Gemini responder enabled")
	} else {
		responder = ai.Fallback{}
		log.Warn().Msg("GEMINI_API_KEY not set, using keyword fallback responder")
	}

	auth := authstore.New(cfg.AuthDataDir)
	dialer := transport.NewWhatsmeowDialer(auth)
	dialer.EchoQRInTerminal = cfg.QRInTerminal

	gate := entitlement.NewGate(tenants, cfg.FreePassTenants, time.Now)
	pipe := pipeline.New(dd, gate, tenants, messages, responder, hub, nil)
	manager := session.NewManager(registry.New(), dialer, auth, gate, hub, pipe.Handle, cfg.RetryLimit, cfg.RetryBackoff)

	server := api.NewServer(manager, tenants, messages, hub, memory, cfg.AdminToken)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Startup failed")
	}
}
