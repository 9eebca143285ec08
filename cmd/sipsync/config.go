package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/sipsync/internal/cache"
	"github.com/jason-s-yu/sipsync/internal/network"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	connectTimeout time.Duration
	paceTick       time.Duration
	port           int
	profilePath    string
	redisAddr      string
	redisQueue     string
	rulesPath      string
	verbose        bool
	wsPort         int
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.wsPort < 0 || c.wsPort > 65535 {
		return fmt.Errorf("invalid websocket port (must be between 0-65535 inclusive): %d", c.wsPort)
	}
	if c.paceTick <= 0 {
		return fmt.Errorf("pace tick must be positive, got %v", c.paceTick)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "sipsync",
		Short:   "Keeps a drinking game's rules, roster and pace in sync across players.",
		Version: releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to when hosting (env: SIPSYNC_BIND)")
	fs.DurationVar(&cfg.connectTimeout, "connect-timeout", network.DefaultConnectTimeout, "how long to wait for the host (env: SIPSYNC_CONNECT_TIMEOUT)")
	fs.DurationVar(&cfg.paceTick, "pace-tick", time.Minute, "wall time that counts as one game minute (env: SIPSYNC_PACE_TICK)")
	fs.IntVarP(&cfg.port, "port", "p", network.DefaultPort, "port to host on or connect to (env: SIPSYNC_PORT)")
	fs.StringVar(&cfg.profilePath, "profile", "", "path to the local profile file (env: SIPSYNC_PROFILE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address for the action feed, empty to disable (env: SIPSYNC_REDIS_ADDR)")
	fs.StringVar(&cfg.redisQueue, "redis-queue", cache.DefaultQueueName, "redis list the action feed pushes to (env: SIPSYNC_REDIS_QUEUE)")
	fs.StringVarP(&cfg.rulesPath, "rules", "r", "", "rule file to load when hosting (env: SIPSYNC_RULES)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SIPSYNC_VERBOSE)")
	fs.IntVar(&cfg.wsPort, "ws-port", 0, "also accept websocket peers on this port, 0 to disable (env: SIPSYNC_WS_PORT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newHostCmd(cfg), newJoinCmd(cfg), newTailCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("sipsync v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
