// Copyright 2025 Blink Labs Software
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
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/attest/event"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(event.TaskOpenedEventType)
	eb.Publish(
		event.TaskOpenedEventType,
		event.NewEvent(event.TaskOpenedEventType, 12, event.TaskOpenedEvent{TaskID: 3}),
	)
	select {
	case evt, ok := <-subCh:
		require.True(t, ok, "event channel closed unexpectedly")
		assert.Equal(t, uint64(12), evt.Tick)
		data, ok := evt.Data.(event.TaskOpenedEvent)
		require.True(t, ok, "unexpected event data type %T", evt.Data)
		assert.Equal(t, uint64(3), data.TaskID)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(event.SlashQueuedEventType)
	_, sub2Ch := eb.Subscribe(event.SlashQueuedEventType)
	_, otherCh := eb.Subscribe(event.SlashExecutedEventType)
	eb.Publish(
		event.SlashQueuedEventType,
		event.NewEvent(event.SlashQueuedEventType, 1, event.SlashEvent{SlashID: 9}),
	)
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		select {
		case evt := <-ch:
			assert.Equal(t, uint64(9), evt.Data.(event.SlashEvent).SlashID)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	select {
	case <-otherCh:
		t.Fatal("received event of another type")
	default:
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(event.TaskPhaseEventType)
	eb.Unsubscribe(event.TaskPhaseEventType, subId)
	eb.Publish(event.TaskPhaseEventType, event.NewEvent(event.TaskPhaseEventType, 1, nil))
	select {
	case _, ok := <-subCh:
		require.False(t, ok, "received unexpected event")
	case <-time.After(1 * time.Second):
		t.Fatal("subscriber channel was not closed after Unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullChannel(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Stop()
	typ := event.TaskPhaseEventType
	_, ch := eb.Subscribe(typ)
	for range event.EventQueueSize + 5 {
		eb.Publish(typ, event.NewEvent(typ, 0, "fill"))
	}
	drained := 0
	for drained < event.EventQueueSize {
		select {
		case <-ch:
			drained++
		default:
			t.Fatalf("expected %d buffered events, got %d", event.EventQueueSize, drained)
		}
	}
	select {
	case <-ch:
		t.Fatal("overflow event should have been dropped")
	default:
	}
	count, err := testutil.GatherAndCount(reg, "attest_event_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	typ := event.IntegrityViolationEventType
	var received atomic.Int32
	eb.SubscribeFunc(typ, func(evt event.Event) {
		if received.Add(1) == 1 {
			panic("intentional test panic")
		}
	})
	eb.Publish(typ, event.NewEvent(typ, 0, "panic"))
	eb.Publish(typ, event.NewEvent(typ, 0, "after-panic"))
	require.Eventually(t, func() bool {
		return received.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond,
		"handler should continue processing events after a panic",
	)
}

func TestPublishAsync(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	typ := event.MemberStatusEventType
	got := make(chan event.Event, 1)
	eb.SubscribeFunc(typ, func(evt event.Event) {
		got <- evt
	})
	require.True(t, eb.PublishAsync(typ, event.NewEvent(typ, 5, event.MemberStatusEvent{Member: "m"})))
	select {
	case evt := <-got:
		assert.Equal(t, "m", evt.Data.(event.MemberStatusEvent).Member)
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for async event")
	}
	eb.Stop()
	assert.False(t, eb.PublishAsync(typ, event.NewEvent(typ, 6, nil)))
}

func TestEventBusStop(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	typ := event.TaskFinishedEventType
	_, subCh := eb.Subscribe(typ)
	var handled atomic.Int32
	eb.SubscribeFunc(typ, func(event.Event) {
		handled.Add(1)
	})
	eb.Publish(typ, event.NewEvent(typ, 0, "before"))
	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, time.Second, 5*time.Millisecond)
	eb.Stop()
	// Buffered event then closed
	_, ok := <-subCh
	assert.True(t, ok)
	_, ok = <-subCh
	assert.False(t, ok)
	eb.Publish(typ, event.NewEvent(typ, 0, "after"))
	assert.Equal(t, int32(1), handled.Load())
	id, ch := eb.Subscribe(typ)
	assert.Zero(t, id)
	_, ok = <-ch
	assert.False(t, ok)
	assert.Zero(t, eb.SubscribeFunc(typ, func(event.Event) {}))
	// Stop is idempotent
	eb.Stop()
}

func TestPublishUnsubscribeRace(t *testing.T) {
	for range 200 {
		eb := event.NewEventBus(nil, nil)
		typ := event.EventType("race.test")
		subId, ch := eb.Subscribe(typ)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := range 10 {
				eb.Publish(typ, event.NewEvent(typ, uint64(j), j))
			}
		}()
		go func() {
			defer wg.Done()
			eb.Unsubscribe(typ, subId)
			eb.Stop()
		}()
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		wg.Wait()
	}
}

func TestSubscribeFuncStopRace(t *testing.T) {
	for range 200 {
		eb := event.NewEventBus(nil, nil)
		typ := event.EventType("race.subscribefunc.stop")
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				eb.SubscribeFunc(typ, func(event.Event) {})
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Stop()
		}()
		wg.Wait()
		// Handlers registered after Stop never start
		eb.Stop()
	}
}
