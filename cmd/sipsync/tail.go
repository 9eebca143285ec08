package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/historian"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newTailCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow a host's action feed from redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd.Context(), cfg, os.Stdout)
		},
	}
}

func runTail(ctx context.Context, cfg *Config, out io.Writer) error {
	if cfg.redisAddr == "" {
		return errors.New("tail needs --redis-addr")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", cfg.redisAddr, err)
	}

	h := historian.New(rdb, cfg.redisQueue, logger)
	return h.Run(ctx, func(e historian.Entry) {
		fmt.Fprintf(out, "#%d [%s] %s\n", e.Record.ActionIndex, e.Record.Origin, summarize(e))
	})
}

func summarize(e historian.Entry) string {
	switch m := e.Message.(type) {
	case protocol.RuleUpdate:
		return fmt.Sprintf("rules updated: %d rules, pace %d", len(m.Rules.Rules), m.Rules.Pace)
	case protocol.PlayerListUpdate:
		return fmt.Sprintf("roster: %d players", len(m.Players))
	case protocol.PlayerUpdate:
		return fmt.Sprintf("player %s (x%g)", m.Player.Name, m.Player.DrinkModifier)
	case protocol.ElapsedMinutesUpdate:
		return fmt.Sprintf("%g minutes in", m.ElapsedMinutes)
	case protocol.TriggerIndividualRule:
		return game.Describe(m.Rule, &m.Player)
	case protocol.TriggerAllButOneRule:
		return game.Describe(m.Rule, &m.Player)
	case protocol.TriggerGroupRule:
		return game.Describe(m.Rule, nil)
	case protocol.TriggerEventPaceRule:
		return game.Describe(m.Rule, nil)
	}
	return string(e.Message.Type())
}
