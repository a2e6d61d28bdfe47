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

package event_test

import (
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/paddock/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := event.NewEventBus(prometheus.NewRegistry(), nil)
	defer bus.Stop()
	_, evtCh := bus.Subscribe(event.TypeDepositCompleted)
	bus.Publish(
		event.TypeDepositCompleted,
		event.NewEvent(
			event.TypeDepositCompleted,
			event.DepositEvent{
				TxID:    "tx1",
				VaultID: "vault-1",
				Amount:  2_000_000,
			},
		),
	)
	select {
	case evt := <-evtCh:
		data, ok := evt.Data.(event.DepositEvent)
		require.True(t, ok)
		assert.Equal(t, "tx1", data.TxID)
		assert.Equal(t, uint64(2_000_000), data.Amount)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, failCh := bus.Subscribe(event.TypeDepositFailed)
	bus.Publish(
		event.TypeDepositCompleted,
		event.NewEvent(event.TypeDepositCompleted, nil),
	)
	select {
	case <-failCh:
		t.Fatal("received event of wrong type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFunc(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	var got event.Event
	bus.SubscribeFunc(
		event.TypeWithdrawalSubmitted,
		func(evt event.Event) {
			got = evt
			wg.Done()
		},
	)
	bus.Publish(
		event.TypeWithdrawalSubmitted,
		event.NewEvent(
			event.TypeWithdrawalSubmitted,
			event.WithdrawalEvent{TxHash: "wtx1"},
		),
	)
	wg.Wait()
	// Stop closes subscriber channels so the handler goroutine exits
	bus.Stop()
	data, ok := got.Data.(event.WithdrawalEvent)
	require.True(t, ok)
	assert.Equal(t, "wtx1", data.TxHash)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	subId, evtCh := bus.Subscribe(event.TypeDepositCompleted)
	bus.Unsubscribe(event.TypeDepositCompleted, subId)
	_, ok := <-evtCh
	assert.False(t, ok)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	bus.Subscribe(event.TypeDepositCompleted)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < event.EventQueueSize+5; i++ {
			bus.Publish(
				event.TypeDepositCompleted,
				event.NewEvent(event.TypeDepositCompleted, nil),
			)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber queue")
	}
}
