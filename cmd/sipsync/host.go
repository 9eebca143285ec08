package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jason-s-yu/sipsync/internal/cache"
	"github.com/jason-s-yu/sipsync/internal/ingress"
	"github.com/jason-s-yu/sipsync/internal/profile"
	"github.com/jason-s-yu/sipsync/internal/rulefile"
	"github.com/jason-s-yu/sipsync/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newHostCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Host a game others can join",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), cfg)
		},
	}
}

func runHost(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg)

	store, err := profile.NewFileStore(cfg.profilePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatcher := session.NewSerialDispatcher(64)
	defer dispatcher.Close()

	hcfg := session.HostConfig{
		Logger:     logger,
		Rules:      rulefile.Loader{},
		Profile:    store,
		Dispatcher: dispatcher,
		PaceTick:   cfg.paceTick,
	}
	if feed := connectFeed(ctx, cfg, logger); feed != nil {
		defer feed.Close()
		hcfg.Feed = feed
	}

	host, err := session.NewHost(hcfg)
	if err != nil {
		return err
	}

	if err := loadInitialRules(host, cfg, store, logger); err != nil {
		host.Close()
		return err
	}

	l, err := net.Listen("tcp", net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)))
	if err != nil {
		host.Close()
		return err
	}
	if err := host.Listen(l); err != nil {
		_ = l.Close()
		host.Close()
		return err
	}

	con := newConsole(os.Stdout, host)
	con.handle("load", "load <file>", func(args []string) error {
		if len(args) != 1 {
			return errors.New("usage: load <file>")
		}
		return host.SetGameRules(args[0])
	})
	host.Subscribe(con.listener(nil))
	go func() {
		con.run(os.Stdin)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.wsPort > 0 {
		g.Go(func() error {
			return ingress.Serve(gctx, net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.wsPort)), logger, host)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		host.Close()
		return nil
	})
	return g.Wait()
}

// connectFeed returns nil when the feed is disabled or redis is unreachable;
// the game runs the same without it.
func connectFeed(ctx context.Context, cfg *Config, logger logrus.FieldLogger) *cache.ActionFeed {
	if cfg.redisAddr == "" {
		return nil
	}
	feed, err := cache.Connect(ctx, cache.Options{Addr: cfg.redisAddr, Queue: cfg.redisQueue})
	if err != nil {
		logger.Warnf("action feed disabled: %v", err)
		return nil
	}
	logger.WithFields(logrus.Fields{
		"queue":   cfg.redisQueue,
		"session": feed.SessionID(),
	}).Info("publishing actions to redis")
	return feed
}

func loadInitialRules(host *session.Host, cfg *Config, store *profile.FileStore, logger logrus.FieldLogger) error {
	if cfg.rulesPath != "" {
		return host.SetGameRules(cfg.rulesPath)
	}
	ud, err := store.Load()
	if err != nil || ud.RulesPath == "" {
		return nil
	}
	if err := host.SetGameRules(ud.RulesPath); err != nil {
		logger.Warnf("could not reload last rules %s: %v", ud.RulesPath, err)
	}
	return nil
}
