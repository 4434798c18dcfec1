// Package signalbus implements the durable, at-least-once cross-node
// Signal Bus over Redis streams: every node publishes to and consumes
// from the same consumer group, skipping its own messages.
package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"curvewarden/internal/cache"
	"curvewarden/internal/domain"
	"curvewarden/internal/logging"
)

const (
	streamCap     = 10000
	pollTick      = 500 * time.Millisecond
	blockTimeout  = 2000 * time.Millisecond
	batchSize     = 50
	consumerGroup = "curvewarden-consumers"
)

// Handler processes one Signal received on a channel. A returned error
// means the message is not acknowledged, and will be redelivered.
type Handler func(ctx context.Context, signal domain.Signal) error

// Bus is the durable cross-node signal bus.
type Bus struct {
	cache    *cache.Service
	nodeID   string
	prefix   string
	handlers map[string][]Handler

	stopCh chan struct{}
}

// New constructs a Bus. prefix namespaces the underlying stream keys
// (e.g. the deployment environment); nodeID is this process's identity,
// used to skip self-authored messages.
func New(c *cache.Service, prefix, nodeID string) *Bus {
	return &Bus{
		cache:    c,
		nodeID:   nodeID,
		prefix:   prefix,
		handlers: make(map[string][]Handler),
		stopCh:   make(chan struct{}),
	}
}

func (b *Bus) streamKey(channel string) string {
	return fmt.Sprintf("%s:signals:%s", b.prefix, channel)
}

// Subscribe registers a handler for channel. Call before StartConsuming.
func (b *Bus) Subscribe(channel string, h Handler) {
	b.handlers[channel] = append(b.handlers[channel], h)
}

// Publish appends a signal of type sigType carrying data to channel's
// stream, capped to approximately streamCap entries.
func (b *Bus) Publish(ctx context.Context, channel, sigType string, data map[string]interface{}) error {
	signal := domain.Signal{
		ID:          fmt.Sprintf("%s-%d", b.nodeID, time.Now().UnixNano()),
		NodeID:      b.nodeID,
		Type:        sigType,
		Data:        data,
		TimestampMs: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	_, err = b.cache.XAddCapped(ctx, b.streamKey(channel), streamCap, map[string]interface{}{"payload": payload})
	return err
}

// StartConsuming ensures a consumer group exists for every subscribed
// channel, then polls each on its own goroutine until ctx is cancelled or
// Stop is called.
func (b *Bus) StartConsuming(ctx context.Context) error {
	for channel := range b.handlers {
		if err := b.cache.EnsureConsumerGroup(ctx, b.streamKey(channel), consumerGroup); err != nil {
			return fmt.Errorf("ensure consumer group for %s: %w", channel, err)
		}
	}

	for channel := range b.handlers {
		go b.consumeLoop(ctx, channel)
	}
	return nil
}

// Stop halts all consume loops.
func (b *Bus) Stop() {
	close(b.stopCh)
}

func (b *Bus) consumeLoop(ctx context.Context, channel string) {
	ticker := time.NewTicker(pollTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.poll(ctx, channel)
		}
	}
}

func (b *Bus) poll(ctx context.Context, channel string) {
	key := b.streamKey(channel)
	streams, err := b.cache.ReadGroup(ctx, consumerGroup, b.nodeID, []string{key, ">"}, batchSize, blockTimeout)
	if err != nil {
		logging.WithComponent("signalbus").Warn("read group failed", "channel", channel, "error", err)
		return
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			b.handleMessage(ctx, channel, key, msg.ID, msg.Values)
		}
	}
}

func (b *Bus) handleMessage(ctx context.Context, channel, key, msgID string, values map[string]interface{}) {
	raw, ok := values["payload"]
	if !ok {
		_ = b.cache.Ack(ctx, key, consumerGroup, msgID)
		return
	}
	var signal domain.Signal
	payload, _ := raw.(string)
	if err := json.Unmarshal([]byte(payload), &signal); err != nil {
		logging.WithComponent("signalbus").Warn("malformed signal payload, acking to avoid poison message", "channel", channel, "error", err)
		_ = b.cache.Ack(ctx, key, consumerGroup, msgID)
		return
	}

	if signal.NodeID == b.nodeID {
		_ = b.cache.Ack(ctx, key, consumerGroup, msgID)
		return
	}

	allSucceeded := true
	for _, h := range b.handlers[channel] {
		if err := h(ctx, signal); err != nil {
			logging.WithComponent("signalbus").Warn("handler failed, leaving unacknowledged for redelivery", "channel", channel, "error", err)
			allSucceeded = false
		}
	}
	if allSucceeded {
		_ = b.cache.Ack(ctx, key, consumerGroup, msgID)
	}
}
