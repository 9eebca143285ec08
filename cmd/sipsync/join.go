package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/sipsync/internal/profile"
	"github.com/jason-s-yu/sipsync/internal/session"
	"github.com/spf13/cobra"
)

func newJoinCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join [address]",
		Short: "Join a hosted game, by host name, IP or ws:// URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := ""
			if len(args) == 1 {
				address = args[0]
			}
			return runJoin(cmd.Context(), cfg, address)
		},
	}
}

func runJoin(ctx context.Context, cfg *Config, address string) error {
	logger := newLogger(cfg)

	store, err := profile.NewFileStore(cfg.profilePath)
	if err != nil {
		return err
	}

	port := cfg.port
	if address == "" {
		ud, err := store.Load()
		if err != nil {
			return err
		}
		if ud.LastHost == "" {
			return errors.New("no address given and no previous host to rejoin")
		}
		address = ud.LastHost
		if ud.LastPort > 0 {
			port = ud.LastPort
		}
	}

	dispatcher := session.NewSerialDispatcher(64)
	defer dispatcher.Close()

	client, err := session.NewClient(session.ClientConfig{
		Logger:         logger,
		Profile:        store,
		Dispatcher:     dispatcher,
		ConnectTimeout: cfg.connectTimeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	con := newConsole(os.Stdout, client)
	client.Subscribe(con.listener(cancel))

	if err := client.Start(ctx, port, address); err != nil {
		return err
	}
	defer client.Disconnect()

	go func() {
		con.run(os.Stdin)
		cancel()
	}()

	<-ctx.Done()
	return nil
}
