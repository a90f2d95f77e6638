// SPDX-License-Identifier: Apache-2.0

// Command essqueueess runs the SQS/SNS emulator as a single HTTP
// binary, generalizing the teacher's flat main.go into a chi router
// wired against internal/bus (spec §6, §7).
package main

import (
	"flag"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/go-ess/ess-queue-ess/internal/admin"
	"github.com/go-ess/ess-queue-ess/internal/bus"
	"github.com/go-ess/ess-queue-ess/internal/buslog"
	"github.com/go-ess/ess-queue-ess/internal/config"
	"github.com/go-ess/ess-queue-ess/internal/wire/snsapi"
	"github.com/go-ess/ess-queue-ess/internal/wire/sqsapi"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	logger := buslog.Default("info")

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load config, starting with defaults")
		} else {
			cfg = loaded
		}
	}
	if cfg == nil {
		cfg = config.Default()
	}

	if cfg.Bus.LogLevel != "" {
		logger = buslog.Default(cfg.Bus.LogLevel)
	}

	b := bus.New(bus.Config{
		Logger:         logger,
		ServiceURLBase: cfg.Bus.ServiceURLBase,
		Partition:      cfg.Partition(),
		MoveWorkerTick: time.Duration(cfg.Bus.MoveWorkerTickMillis) * time.Millisecond,
	})

	if len(cfg.Queues) > 0 {
		if err := config.BootstrapQueues(b, cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap queues")
		}
		logger.Info().Int("count", len(cfg.Queues)).Msg("bootstrapped queues from configuration")
	}
	if len(cfg.Topics) > 0 {
		if err := config.BootstrapTopics(b, cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to bootstrap topics")
		}
		logger.Info().Int("count", len(cfg.Topics)).Msg("bootstrapped topics from configuration")
	}

	sqs := sqsapi.New(b, logger)
	sns := snsapi.New(b, logger)
	adminHandler := admin.New(b)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/admin", adminHandler.Dashboard)
	r.Get("/admin/api", adminHandler.API)
	r.Get("/admin/api/policy", adminHandler.Policy)
	r.Get("/admin/api/events", adminHandler.Events)

	r.Post("/sns", sns.ServeHTTP)
	r.HandleFunc("/*", sqs.ServeHTTP)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	logger.Info().Str("port", port).Msg("starting essqueueess")
	logger.Info().Str("endpoint", "http://localhost:"+port+"/").Msg("sqs endpoint")
	logger.Info().Str("endpoint", "http://localhost:"+port+"/sns").Msg("sns endpoint")
	logger.Info().Str("endpoint", "http://localhost:"+port+"/admin").Msg("admin ui")

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Fatal().Err(err).Msg("server failed to start")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
