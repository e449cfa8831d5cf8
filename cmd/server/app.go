package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yancarlos4500/sanjuan-coordination/internal/config"
	"github.com/yancarlos4500/sanjuan-coordination/internal/injector"
)

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "sanjuan-board",
		Short:         "Realtime coordination board server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			srv, cleanup, err := injector.InitializeServer(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return srv.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to a YAML config file")
	flags.String("listen", "", "listen address (host:port)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also write logs to this file, rotated")
	flags.StringSlice("lanes", nil, "lane names, holding lane first")
	flags.String("max-message-size", "", "largest inbound frame, e.g. 1MiB")
	flags.StringSlice("allowed-origins", nil, "browser origins allowed to connect")
	flags.Bool("feed", false, "poll the VATSIM data feed")
	flags.String("feed-url", "", "VATSIM data feed URL")
	flags.Duration("feed-interval", 0, "VATSIM feed poll interval")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	v.SetEnvPrefix("SANJUAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{
		"config", "listen", "log-level", "log-file", "lanes", "max-message-size",
		"allowed-origins", "feed", "feed-url", "feed-interval",
	} {
		bindFlag(name)
	}

	cmd.AddCommand(newWatchCommand())
	return cmd
}

// loadConfig reads the YAML file, if any, and applies flag and environment
// overrides on top.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if v.IsSet("listen") {
		cfg.Listen = v.GetString("listen")
	}
	if v.IsSet("log-level") {
		cfg.Log.Level = v.GetString("log-level")
	}
	if v.IsSet("log-file") {
		cfg.Log.File = v.GetString("log-file")
	}
	if v.IsSet("lanes") {
		cfg.Lanes = v.GetStringSlice("lanes")
	}
	if v.IsSet("max-message-size") {
		cfg.Transport.MaxMessageSize = v.GetString("max-message-size")
	}
	if v.IsSet("allowed-origins") {
		cfg.Transport.AllowedOrigins = v.GetStringSlice("allowed-origins")
	}
	if v.IsSet("feed") {
		cfg.Feed.Enabled = v.GetBool("feed")
	}
	if v.IsSet("feed-url") {
		cfg.Feed.URL = v.GetString("feed-url")
	}
	if v.IsSet("feed-interval") {
		cfg.Feed.Interval = v.GetDuration("feed-interval")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
