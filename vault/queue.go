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

package vault

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/paddock/database"
	"github.com/blinklabs-io/paddock/event"
)

// Submission and notification messages
const (
	MessageAccepted         = "accepted"
	MessageAlreadyQueued    = "already_queued"
	MessageAlreadyCompleted = "already_completed"
	MessageOk               = "oke"
	MessageFailed           = "failed"
)

// ReasonStale marks a deposit that exhausted its retry window
const ReasonStale = "stale"

// DepositRequest is a user's claim that a transaction deposited into a
// vault
type DepositRequest struct {
	TxID          string
	WalletAddress string
	VaultID       string
}

// SubmitResult reports whether a claim was queued for validation
type SubmitResult struct {
	Accepted bool
	Message  string
}

// DepositResult is the terminal notification for a queued claim
type DepositResult struct {
	Message       string
	DepositAmount uint64
	Reason        string
}

type depositKey struct {
	TxID    string
	VaultID string
}

type depositItem struct {
	req         DepositRequest
	submittedAt time.Time
	attempts    int
	done        chan DepositResult
}

// DepositQueue validates deposit claims asynchronously. A single
// worker goroutine starts lazily on the first submission and exits
// once the queue drains; claims that cannot be validated yet are
// requeued with a backoff until they exceed the retry window.
type DepositQueue struct {
	mu            sync.Mutex
	logger        *slog.Logger
	db            *database.Database
	validator     *Validator
	eventBus      *event.EventBus
	metrics       *serviceMetrics
	retryBackoff  time.Duration
	maxRetryAge   time.Duration
	warnDepth     int
	items         []*depositItem
	inflight      map[depositKey]struct{}
	workerRunning bool
	wg            sync.WaitGroup

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// Submit records a deposit claim and queues it for validation. The
// returned channel (buffered, never closed) receives the terminal
// notification for accepted claims.
func (q *DepositQueue) Submit(
	req DepositRequest,
) (SubmitResult, <-chan DepositResult, error) {
	key := depositKey{TxID: req.TxID, VaultID: req.VaultID}
	q.mu.Lock()
	if _, ok := q.inflight[key]; ok {
		q.mu.Unlock()
		// The claim is already in flight: acknowledged, not requeued
		return SubmitResult{
			Accepted: true,
			Message:  MessageAlreadyQueued,
		}, nil, nil
	}
	q.mu.Unlock()
	ensureResult, err := q.db.EnsurePendingDeposit(
		req.TxID,
		req.WalletAddress,
		req.VaultID,
	)
	if err != nil {
		return SubmitResult{}, nil, err
	}
	if ensureResult == database.EnsureAlreadyCompleted {
		return SubmitResult{
			Accepted: true,
			Message:  MessageAlreadyCompleted,
		}, nil, nil
	}
	item := &depositItem{
		req:         req,
		submittedAt: q.now(),
		done:        make(chan DepositResult, 1),
	}
	q.mu.Lock()
	// Re-check under lock in case of a concurrent submission
	if _, ok := q.inflight[key]; ok {
		q.mu.Unlock()
		return SubmitResult{
			Accepted: true,
			Message:  MessageAlreadyQueued,
		}, nil, nil
	}
	q.inflight[key] = struct{}{}
	q.items = append(q.items, item)
	q.wg.Add(1)
	depth := len(q.items)
	if !q.workerRunning {
		q.workerRunning = true
		go q.worker()
	}
	q.mu.Unlock()
	q.metrics.queueDepth.Set(float64(depth))
	if depth >= q.warnDepth {
		q.logger.Warn(
			"deposit queue depth high",
			"depth", depth,
		)
	}
	q.logger.Info(
		"deposit claim queued",
		"tx_id", req.TxID,
		"vault_id", req.VaultID,
		"wallet", req.WalletAddress,
	)
	return SubmitResult{
		Accepted: true,
		Message:  MessageAccepted,
	}, item.done, nil
}

// WaitIdle blocks until every queued claim has reached a terminal
// state. Intended for shutdown and tests.
func (q *DepositQueue) WaitIdle() {
	q.wg.Wait()
}

func (q *DepositQueue) worker() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.workerRunning = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		depth := len(q.items)
		q.mu.Unlock()
		q.metrics.queueDepth.Set(float64(depth))
		q.process(item)
	}
}

func (q *DepositQueue) process(item *depositItem) {
	facts, err := q.validator.Validate(context.Background(), item.req)
	if err == nil {
		q.complete(item, facts)
		return
	}
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		age := q.now().Sub(item.submittedAt)
		if age <= q.maxRetryAge {
			q.retry(item, retryErr)
			return
		}
		q.logger.Info(
			"deposit claim exceeded retry window",
			"tx_id", item.req.TxID,
			"vault_id", item.req.VaultID,
			"age", age.String(),
			"attempts", item.attempts,
		)
		q.fail(item, ReasonStale)
		return
	}
	q.fail(item, err.Error())
}

func (q *DepositQueue) complete(
	item *depositItem,
	facts database.DepositFacts,
) {
	if err := q.db.FinalizeDeposit(
		item.req.TxID,
		item.req.VaultID,
		facts,
	); err != nil {
		q.logger.Error(
			"failed to finalize deposit",
			"tx_id", item.req.TxID,
			"vault_id", item.req.VaultID,
			"error", err,
		)
		q.fail(item, "internal error recording deposit")
		return
	}
	q.logger.Info(
		"deposit completed",
		"tx_id", item.req.TxID,
		"vault_id", item.req.VaultID,
		"wallet", facts.Contributor,
		"amount", facts.Amount,
	)
	q.metrics.depositsProcessed.Inc()
	q.eventBus.Publish(
		event.TypeDepositCompleted,
		event.NewEvent(
			event.TypeDepositCompleted,
			event.DepositEvent{
				TxID:    item.req.TxID,
				VaultID: item.req.VaultID,
				Wallet:  facts.Contributor,
				Amount:  facts.Amount,
			},
		),
	)
	q.finish(item, DepositResult{
		Message:       MessageOk,
		DepositAmount: facts.Amount,
	})
}

func (q *DepositQueue) retry(item *depositItem, retryErr *RetryableError) {
	item.attempts++
	q.metrics.depositsRetried.Inc()
	q.logger.Debug(
		"deposit claim requeued",
		"tx_id", item.req.TxID,
		"vault_id", item.req.VaultID,
		"attempts", item.attempts,
		"reason", retryErr.Reason,
	)
	q.sleep(q.retryBackoff)
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *DepositQueue) fail(item *depositItem, reason string) {
	if err := q.db.MarkDepositFailed(
		item.req.TxID,
		item.req.VaultID,
		reason,
	); err != nil {
		q.logger.Error(
			"failed to mark deposit failed",
			"tx_id", item.req.TxID,
			"vault_id", item.req.VaultID,
			"error", err,
		)
	}
	q.logger.Info(
		"deposit failed",
		"tx_id", item.req.TxID,
		"vault_id", item.req.VaultID,
		"reason", reason,
	)
	q.metrics.depositsFailed.Inc()
	q.eventBus.Publish(
		event.TypeDepositFailed,
		event.NewEvent(
			event.TypeDepositFailed,
			event.DepositEvent{
				TxID:    item.req.TxID,
				VaultID: item.req.VaultID,
				Wallet:  item.req.WalletAddress,
				Reason:  reason,
			},
		),
	)
	q.finish(item, DepositResult{
		Message: MessageFailed,
		Reason:  reason,
	})
}

func (q *DepositQueue) finish(item *depositItem, result DepositResult) {
	key := depositKey{
		TxID:    item.req.TxID,
		VaultID: item.req.VaultID,
	}
	q.mu.Lock()
	delete(q.inflight, key)
	q.mu.Unlock()
	item.done <- result
	q.wg.Done()
}
