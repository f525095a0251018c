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

package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	// Tick is the committee tick the event was produced at
	Tick uint64
	Data any
	Type EventType
}

func NewEvent(eventType EventType, tick uint64, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Tick:      tick,
		Data:      eventData,
	}
}

type asyncEvent struct {
	eventType EventType
	event     Event
}

// Subscriber receives events from the bus. Deliver must not block and Close
// must be safe to call more than once
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// EventBus fans committee events out to subscribers. Publish never blocks on
// a slow subscriber: events for a full subscriber queue are dropped
type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]Subscriber
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	logger      *slog.Logger

	asyncQueue chan asyncEvent
	asyncWg    sync.WaitGroup
	// handlerWg tracks SubscribeFunc goroutines
	handlerWg sync.WaitGroup
	stopCh    chan struct{}
	stopped   bool
	stopMu    sync.RWMutex
	stopOnce  sync.Once
}

// NewEventBus creates an EventBus and starts its async workers. Metrics are
// registered when promRegistry is not nil
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]Subscriber),
		logger:      logger,
		asyncQueue:  make(chan asyncEvent, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		e.asyncWg.Add(1)
		go e.asyncWorker()
	}
	return e
}

func (e *EventBus) asyncWorker() {
	defer e.asyncWg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case ae := <-e.asyncQueue:
			e.Publish(ae.eventType, ae.event)
		}
	}
}

// channelSubscriber delivers into a buffered channel and drops events when
// the buffer is full
type channelSubscriber struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped func()
}

func newChannelSubscriber(buffer int, dropped func()) *channelSubscriber {
	return &channelSubscriber{
		ch:      make(chan Event, buffer),
		dropped: dropped,
	}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
	default:
		if c.dropped != nil {
			c.dropped()
		}
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

func (e *EventBus) addSubscriber(eventType EventType, sub Subscriber, kind string) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSubId++
	subId := e.lastSubId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), kind).Inc()
	}
	return subId
}

// Subscribe returns a channel receiving events of the specified type. The
// channel is closed by Unsubscribe or Stop. A stopped bus returns a closed
// channel and a zero ID
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	return e.subscribe(eventType)
}

// subscribe must be called with stopMu held
func (e *EventBus) subscribe(eventType EventType) (EventSubscriberId, chan Event) {
	chSub := newChannelSubscriber(EventQueueSize, func() {
		if e.metrics != nil {
			e.metrics.dropped.WithLabelValues(string(eventType)).Inc()
		}
	})
	if e.stopped {
		chSub.Close()
		return 0, chSub.ch
	}
	return e.addSubscriber(eventType, chSub, "channel"), chSub.ch
}

// SubscribeFunc calls handlerFunc for every event of the specified type from
// its own goroutine. A panic in the handler is logged and the handler keeps
// receiving events
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	// Stop can't start waiting for handlers before Add
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return 0
	}
	subId, evtCh := e.subscribe(eventType)
	e.handlerWg.Add(1)
	go func() {
		defer e.handlerWg.Done()
		for evt := range evtCh {
			e.handle(handlerFunc, evt)
		}
	}()
	return subId
}

func (e *EventBus) handle(handlerFunc EventHandlerFunc, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				"event handler panic",
				"component", "event",
				"type", evt.Type,
				"panic", r,
			)
		}
	}()
	handlerFunc(evt)
}

// RegisterSubscriber adds an external subscriber for the specified type
func (e *EventBus) RegisterSubscriber(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		sub.Close()
		return 0
	}
	return e.addSubscriber(eventType, sub, "external")
}

// Unsubscribe removes a subscriber and closes it
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var sub Subscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		sub = evtTypeSubs[subId]
		delete(evtTypeSubs, subId)
		if len(evtTypeSubs) == 0 {
			delete(e.subscribers, eventType)
		}
	}
	e.mu.Unlock()
	if sub == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).Dec()
	}
	sub.Close()
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "channel"
	}
	return "external"
}

// Publish delivers an event to every subscriber of its type. Subscribers
// failing delivery are removed
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	subs := make(map[EventSubscriberId]Subscriber, len(e.subscribers[eventType]))
	for id, sub := range e.subscribers[eventType] {
		subs[id] = sub
	}
	e.mu.RUnlock()
	for id, sub := range subs {
		if err := deliver(sub, evt); err != nil {
			e.logger.Debug(
				"event delivery error",
				"component", "event",
				"type", eventType,
				"error", err,
			)
			if e.metrics != nil {
				e.metrics.deliveryErrors.WithLabelValues(string(eventType), subscriberKind(sub)).Inc()
			}
			e.Unsubscribe(eventType, id)
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

func deliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber deliver panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// PublishAsync queues an event for delivery by the worker pool. It returns
// false when the bus is stopped or the queue is full
func (e *EventBus) PublishAsync(eventType EventType, evt Event) bool {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return false
	}
	select {
	case e.asyncQueue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		e.logger.Warn(
			"async event queue full, dropping event",
			"component", "event",
			"type", eventType,
		)
		if e.metrics != nil {
			e.metrics.dropped.WithLabelValues(string(eventType)).Inc()
		}
		return false
	}
}

// Stop shuts down the async workers, closes every subscriber and waits for
// the SubscribeFunc goroutines to exit. Queued async events are discarded
func (e *EventBus) Stop() {
	e.stopOnce.Do(func() {
		e.stopMu.Lock()
		e.stopped = true
		close(e.stopCh)
		e.stopMu.Unlock()
		e.asyncWg.Wait()

		e.mu.Lock()
		subs := e.subscribers
		e.subscribers = make(map[EventType]map[EventSubscriberId]Subscriber)
		e.mu.Unlock()
		for _, evtTypeSubs := range subs {
			for _, sub := range evtTypeSubs {
				sub.Close()
			}
		}
		if e.metrics != nil {
			e.metrics.subscribers.Reset()
		}
		e.handlerWg.Wait()
	})
}
