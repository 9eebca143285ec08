// Package historian follows a host's action feed from Redis and replays it
// into a local copy of the session, one record at a time.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/cache"
	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Entry is one replayed record together with the session state after it.
type Entry struct {
	Record  cache.ActionRecord
	Message protocol.Message
	State   game.Snapshot
}

// Historian pops records from the feed queue.
type Historian struct {
	rdb         *redis.Client
	queue       string
	logger      logrus.FieldLogger
	pollTimeout time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*game.State
}

// New follows queue on rdb. An empty queue means cache.DefaultQueueName.
func New(rdb *redis.Client, queue string, logger logrus.FieldLogger) *Historian {
	if queue == "" {
		queue = cache.DefaultQueueName
	}
	return &Historian{
		rdb:         rdb,
		queue:       queue,
		logger:      logger,
		pollTimeout: 3 * time.Second,
		sessions:    make(map[uuid.UUID]*game.State),
	}
}

// Run pops records until ctx is cancelled and hands each replayed entry to
// handle. Records that do not parse are logged and skipped.
func (h *Historian) Run(ctx context.Context, handle func(Entry)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// BLPop with a timeout so cancellation is noticed.
		res, err := h.rdb.BLPop(ctx, h.pollTimeout, h.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("BLPop %s: %w", h.queue, err)
		}
		if len(res) < 2 {
			continue
		}

		// res[0] is the queue name and res[1] the payload.
		entry, err := h.Replay([]byte(res[1]))
		if err != nil {
			h.logger.Warnf("invalid action record: %v", err)
			continue
		}
		handle(entry)
	}
}

// Replay parses one raw feed record and applies it to its session's state.
func (h *Historian) Replay(raw []byte) (Entry, error) {
	var rec cache.ActionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Entry{}, err
	}
	msg, err := Message(rec)
	if err != nil {
		return Entry{}, err
	}

	h.mu.Lock()
	st, ok := h.sessions[rec.SessionID]
	if !ok {
		st = &game.State{}
		h.sessions[rec.SessionID] = st
	}
	h.mu.Unlock()

	Apply(st, msg)
	return Entry{Record: rec, Message: msg, State: st.Snapshot()}, nil
}

// Message rebuilds the wire message a record was made from.
func Message(rec cache.ActionRecord) (protocol.Message, error) {
	frame := make([]byte, 0, len(rec.MessageType)+len(rec.Payload)+1)
	frame = append(frame, rec.MessageType...)
	frame = append(frame, ':')
	frame = append(frame, rec.Payload...)
	return protocol.Decode(frame)
}

// Apply folds a broadcast message into st the way a client mirror does.
// Drink counts arrive through the roster updates that follow each trigger.
func Apply(st *game.State, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.RuleUpdate:
		st.SetRules(m.Rules)
	case protocol.PlayerListUpdate:
		st.ReplacePlayers(m.Players)
	case protocol.PlayerUpdate:
		st.UpsertPlayer(m.Player, true)
	case protocol.ElapsedMinutesUpdate:
		st.SetElapsedMinutes(m.ElapsedMinutes)
	}
}

// Sessions is the number of host sessions seen so far.
func (h *Historian) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
