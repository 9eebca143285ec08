// Package cache publishes the updates a host accepts to a Redis list so an
// external consumer (a stream overlay, a stats bot) can follow the session.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list accepted updates are pushed to.
const DefaultQueueName = "sipsync_actions"

// ActionRecord is one accepted update as it appears on the feed.
type ActionRecord struct {
	SessionID   uuid.UUID       `json:"session_id"`
	ActionIndex int64           `json:"action_index"`
	Origin      string          `json:"origin"`
	MessageType string          `json:"message_type"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"`
}

// Options configures the Redis feed.
type Options struct {
	Addr  string
	DB    int
	Queue string
}

// ActionFeed pushes records for one host session.
type ActionFeed struct {
	rdb       *redis.Client
	queue     string
	sessionID uuid.UUID
	index     atomic.Int64
}

// Connect opens the Redis client and checks it answers.
func Connect(ctx context.Context, opts Options) (*ActionFeed, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return NewActionFeed(rdb, opts.Queue), nil
}

// NewActionFeed wraps an existing client. An empty queue means DefaultQueueName.
func NewActionFeed(rdb *redis.Client, queue string) *ActionFeed {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActionFeed{
		rdb:       rdb,
		queue:     queue,
		sessionID: uuid.New(),
	}
}

func (f *ActionFeed) SessionID() uuid.UUID { return f.sessionID }

// NewRecord numbers msg and wraps it for the feed.
func (f *ActionFeed) NewRecord(msg protocol.Message, origin string) (ActionRecord, error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return ActionRecord{}, err
	}
	// frame is "<TAG>:<json>\n"; keep only the JSON.
	payload := frame[len(msg.Type())+1 : len(frame)-1]
	return ActionRecord{
		SessionID:   f.sessionID,
		ActionIndex: f.index.Add(1),
		Origin:      origin,
		MessageType: string(msg.Type()),
		Payload:     json.RawMessage(payload),
		Timestamp:   time.Now().UnixMilli(),
	}, nil
}

// Publish serializes msg and pushes it onto the queue.
func (f *ActionFeed) Publish(ctx context.Context, msg protocol.Message, origin string) error {
	record, err := f.NewRecord(msg, origin)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := f.rdb.RPush(ctx, f.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", f.queue, err)
	}
	return nil
}

func (f *ActionFeed) Close() error {
	return f.rdb.Close()
}
