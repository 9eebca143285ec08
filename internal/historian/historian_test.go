package historian

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/cache"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offline(t *testing.T) *Historian {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "", logger)
}

func rawRecord(t *testing.T, feed *cache.ActionFeed, msg protocol.Message) []byte {
	t.Helper()
	rec, err := feed.NewRecord(msg, "host")
	require.NoError(t, err)
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return data
}

func TestReplayBuildsSessionState(t *testing.T) {
	h := offline(t)
	feed := cache.NewActionFeed(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer feed.Close()

	rules := models.GameRules{Rules: []models.Rule{{
		PunishmentType:        models.Group,
		RuleDescription:       "Toast",
		PunishmentDescription: "{0} drink {1}",
		PunishmentQuantity:    2,
	}}}
	alice := models.NewPlayer("alice")
	alice.DrinkCount = 2

	msgs := []protocol.Message{
		protocol.RuleUpdate{Rules: rules},
		protocol.PlayerUpdate{Player: models.NewPlayer("alice")},
		protocol.TriggerGroupRule{Rule: rules.Rules[0]},
		protocol.PlayerListUpdate{Players: []models.PlayerInfo{alice}},
		protocol.ElapsedMinutesUpdate{ElapsedMinutes: 3},
	}

	var last Entry
	for i, msg := range msgs {
		entry, err := h.Replay(rawRecord(t, feed, msg))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), entry.Record.ActionIndex)
		assert.Equal(t, msg.Type(), entry.Message.Type())
		last = entry
	}

	assert.Equal(t, rules, last.State.Rules)
	assert.Equal(t, []models.PlayerInfo{alice}, last.State.Players)
	assert.Equal(t, 3.0, last.State.ElapsedMinutes)
	assert.Equal(t, 1, h.Sessions())
}

func TestReplayKeepsSessionsApart(t *testing.T) {
	h := offline(t)
	for range 2 {
		feed := cache.NewActionFeed(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
		_, err := h.Replay(rawRecord(t, feed, protocol.ElapsedMinutesUpdate{ElapsedMinutes: 1}))
		require.NoError(t, err)
		feed.Close()
	}
	assert.Equal(t, 2, h.Sessions())
}

func TestReplayRejectsBadRecords(t *testing.T) {
	h := offline(t)

	_, err := h.Replay([]byte("{not json"))
	require.Error(t, err)

	rec := cache.ActionRecord{SessionID: uuid.New(), MessageType: "COUNTER", Payload: json.RawMessage(`3`)}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	_, err = h.Replay(data)
	require.ErrorIs(t, err, protocol.ErrUnknownMessageType)
	assert.Zero(t, h.Sessions())
}

// Needs a local Redis; skipped when none answers.
func TestRunFollowsFeed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := "sipsync_hist_" + time.Now().Format("150405.000000")
	feed, err := cache.Connect(ctx, cache.Options{Addr: "localhost:6379", Queue: queue})
	if err != nil {
		t.Skipf("no redis available: %v", err)
	}
	defer feed.Close()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	defer rdb.Del(context.Background(), queue)

	logger, _ := test.NewNullLogger()
	h := New(rdb, queue, logger)
	h.pollTimeout = 100 * time.Millisecond

	require.NoError(t, feed.Publish(ctx, protocol.ElapsedMinutesUpdate{ElapsedMinutes: 7}, "host"))

	got := make(chan Entry, 1)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.Run(runCtx, func(e Entry) { got <- e }) }()

	select {
	case e := <-got:
		assert.Equal(t, 7.0, e.State.ElapsedMinutes)
		assert.Equal(t, feed.SessionID(), e.Record.SessionID)
	case <-ctx.Done():
		t.Fatal("no entry replayed")
	}
	stop()
	require.NoError(t, <-done)
}
