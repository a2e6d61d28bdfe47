// Copyright 2026 Blink Labs Software
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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/event"
	"github.com/blinklabs-io/paddock/internal/config"
	"github.com/blinklabs-io/paddock/vault"
	"github.com/blinklabs-io/paddock/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()

	if cfg.BlockfrostProject == "" {
		slog.Error(
			"no Blockfrost project ID configured " +
				"(set BLOCKFROST_PROJECT_ID or blockfrostProject)",
		)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabasePath, logger)
	if err != nil {
		slog.Error(fmt.Sprintf("failed to open database: %s", err))
		os.Exit(1)
	}
	defer db.Close()

	chainClient := chain.NewClient(
		chain.ClientConfig{
			BaseURL:   cfg.BlockfrostEndpoint,
			ProjectID: cfg.BlockfrostProject,
			Timeout:   cfg.ChainTimeoutDuration(),
		},
		logger,
	)
	resolver := wallet.NewResolver(wallet.ResolverConfig{
		Path:    cfg.WalletsPath,
		Network: cfg.Network,
		Logger:  logger,
	})
	eventBus := event.NewEventBus(prometheus.DefaultRegisterer, logger)
	defer eventBus.Stop()

	svc, err := vault.New(vault.Config{
		Logger:         logger,
		Database:       db,
		Chain:          chainClient,
		Wallets:        resolver,
		EventBus:       eventBus,
		PromRegistry:   prometheus.DefaultRegisterer,
		StrictIdentity: cfg.StrictIdentity,
		RetryBackoff:   cfg.RetryBackoffDuration(),
		MaxRetryAge:    cfg.MaxRetryAgeDuration(),
		QueueWarnDepth: cfg.QueueWarnDepth,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("failed to create vault service: %s", err))
		os.Exit(1)
	}
	logEventOutcomes(eventBus, logger)

	// Metrics listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component", programName,
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", programName,
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()
	<-signalCtx.Done()

	logger.Info(
		"signal received, draining deposit queue",
		"component", programName,
	)
	svc.Queue().WaitIdle()
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		30*time.Second,
	)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(
			fmt.Sprintf("failed to shutdown metrics listener: %s", err),
			"component", programName,
		)
	}
}

// logEventOutcomes mirrors deposit and withdrawal outcomes into the
// service log
func logEventOutcomes(eventBus *event.EventBus, logger *slog.Logger) {
	eventBus.SubscribeFunc(
		event.TypeDepositCompleted,
		func(evt event.Event) {
			logger.Info(
				"deposit completed",
				"component", programName,
				"data", evt.Data,
			)
		},
	)
	eventBus.SubscribeFunc(
		event.TypeDepositFailed,
		func(evt event.Event) {
			logger.Warn(
				"deposit failed",
				"component", programName,
				"data", evt.Data,
			)
		},
	)
	eventBus.SubscribeFunc(
		event.TypeWithdrawalSubmitted,
		func(evt event.Event) {
			logger.Info(
				"withdrawal submitted",
				"component", programName,
				"data", evt.Data,
			)
		},
	)
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault service",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
	return cmd
}
