// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// CrewDesk — Ingestion Service
//
// Entry point for the inbound-message pipeline. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the resolver chain into the ingestion orchestrator
//  4. Starts the retrying work queue and the mailbox pollers
//  5. Serves the channel webhook and OAuth connect endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crewdesk/ingestion/internal/config"
	"github.com/crewdesk/ingestion/internal/dedup"
	"github.com/crewdesk/ingestion/internal/ingest"
	"github.com/crewdesk/ingestion/internal/mailbox"
	"github.com/crewdesk/ingestion/internal/notify"
	"github.com/crewdesk/ingestion/internal/queue"
	"github.com/crewdesk/ingestion/internal/resolve"
	"github.com/crewdesk/ingestion/internal/storage"
	"github.com/crewdesk/ingestion/internal/store"
	"github.com/crewdesk/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting CrewDesk ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"queue_concurrency", cfg.QueueConcurrency,
		"polling_enabled", cfg.PollingEnabled,
		"poll_interval", cfg.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := notify.NewPublisher(rdb, notify.DefaultQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Redelivery filter and duplicate guard ---
	filter := dedup.NewFilter(rdb)
	guard := dedup.NewGuard(st)

	// --- Resolver chain ---
	orgs := resolve.NewOrganizationResolver(st)
	customers := resolve.NewCustomerResolver(st)
	tickets := resolve.NewTicketResolver(st)

	orchestrator := ingest.New(st, orgs, customers, tickets, guard, publisher)

	// --- Attachment blob store ---
	blobs, err := storage.NewLocalStore(cfg.BlobDir)
	if err != nil {
		slog.Error("failed to initialise blob store", "dir", cfg.BlobDir, "error", err)
		os.Exit(1)
	}

	// --- Mailbox providers and OAuth ---
	oauthConfigs := mailbox.BuildOAuthConfigs(cfg.Google, cfg.Microsoft)
	tokens := mailbox.NewTokenManager(st, oauthConfigs, cfg.TokenRefreshBuffer)
	providers := []mailbox.Provider{
		mailbox.NewGmailProvider(),
		mailbox.NewOutlookProvider(http.DefaultClient, mailbox.DefaultGraphBaseURL),
	}
	oauthMgr := mailbox.NewOAuthManager(st, oauthConfigs)

	// --- Work Queue ---
	q := queue.New(cfg.QueueConcurrency, cfg.QueueMaxAttempts)
	processor := mailbox.NewProcessor(st, tokens, providers, blobs, orchestrator)
	q.Register(processor.Process)
	q.Start(ctx)

	// --- Mailbox polling ---
	syncer := mailbox.NewSyncer(st, tokens, providers, q, filter, cfg.PollInterval, cfg.MaxPagesPerCycle)
	if cfg.PollingEnabled {
		syncer.Start(ctx)
	} else {
		slog.Info("mailbox polling disabled by configuration")
	}

	// --- Webhook server ---
	handler := webhook.NewHandler(
		orchestrator, q, oauthMgr, cfg.WhatsAppVerifyToken,
		st, publisher,
	)
	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("ingestion service ready")

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if cfg.PollingEnabled {
		syncer.Stop()
	}
	q.Stop(cfg.ShutdownGrace)
	slog.Info("ingestion service stopped")
}
