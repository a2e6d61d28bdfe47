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

// Package vault implements the custodial vault pipeline: the deposit
// queue and validator, ledger crediting, and the withdrawal builder
// that spends the vault's script UTxO back to users.
package vault

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/paddock/chain"
	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/event"
	"github.com/blinklabs-io/paddock/wallet"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultRetryBackoff   = 15 * time.Second
	defaultMaxRetryAge    = 180 * time.Second
	defaultQueueWarnDepth = 20
)

// Config holds the dependencies and tuning for the vault service
type Config struct {
	Logger       *slog.Logger
	Database     *database.Database
	Chain        chain.Reader
	Wallets      *wallet.Resolver
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// StrictIdentity rejects deposits whose claimed wallet does not
	// match the datum identity instead of overriding the claim
	StrictIdentity bool
	RetryBackoff   time.Duration
	MaxRetryAge    time.Duration
	QueueWarnDepth int
}

// Service is the vault pipeline facade
type Service struct {
	config        Config
	logger        *slog.Logger
	metrics       *serviceMetrics
	queue         *DepositQueue
	validator     *Validator
	withdrawLocks keyedMutex
}

// New creates a vault service from the given config
func New(cfg Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("no database provided")
	}
	if cfg.Chain == nil {
		return nil, errors.New("no chain reader provided")
	}
	if cfg.Wallets == nil {
		return nil, errors.New("no wallet resolver provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "vault")
	if cfg.EventBus == nil {
		cfg.EventBus = event.NewEventBus(cfg.PromRegistry, logger)
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxRetryAge == 0 {
		cfg.MaxRetryAge = defaultMaxRetryAge
	}
	if cfg.QueueWarnDepth == 0 {
		cfg.QueueWarnDepth = defaultQueueWarnDepth
	}
	metrics := newServiceMetrics(cfg.PromRegistry)
	validator := &Validator{
		chainClient:    cfg.Chain,
		db:             cfg.Database,
		logger:         logger,
		strictIdentity: cfg.StrictIdentity,
	}
	queue := &DepositQueue{
		logger:       logger,
		db:           cfg.Database,
		validator:    validator,
		eventBus:     cfg.EventBus,
		metrics:      metrics,
		retryBackoff: cfg.RetryBackoff,
		maxRetryAge:  cfg.MaxRetryAge,
		warnDepth:    cfg.QueueWarnDepth,
		inflight:     make(map[depositKey]struct{}),
		now:          time.Now,
		sleep:        time.Sleep,
	}
	return &Service{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		queue:     queue,
		validator: validator,
	}, nil
}

// SubmitDeposit queues a deposit claim for asynchronous validation
func (s *Service) SubmitDeposit(
	req DepositRequest,
) (SubmitResult, <-chan DepositResult, error) {
	return s.queue.Submit(req)
}

// Queue exposes the deposit queue, mainly so callers can wait for it
// to drain on shutdown
func (s *Service) Queue() *DepositQueue {
	return s.queue
}
