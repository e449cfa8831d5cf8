package main

import (
	"github.com/spf13/cobra"

	"github.com/yancarlos4500/sanjuan-coordination/internal/core/board"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
	"github.com/yancarlos4500/sanjuan-coordination/sdk/go/client"
)

// newWatchCommand connects as a read-only replica and logs every board change.
func newWatchCommand() *cobra.Command {
	var (
		url      string
		logLevel string
		lanes    []string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running board and log its changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(log.ParseLevel(logLevel))
			defer func() { _ = logger.Sync() }()

			config := client.DefaultClientConfig()
			config.URL = url
			if len(lanes) > 0 {
				config.Lanes = board.Lanes(lanes)
			}

			c, err := client.NewClient(config, logger)
			if err != nil {
				return err
			}

			c.OnStateChange(func(from, to client.ConnState) {
				logger.Info("Connection state", log.String("from", from.String()), log.String("to", to.String()))
			})
			c.Mirror().OnChange(func(state board.State, cause client.Cause) {
				fields := []log.Field{
					log.String("cause", string(cause)),
					log.Int64("last_updated", state.LastUpdated),
					log.Int("items", len(state.Items)),
				}
				for _, lane := range c.Mirror().Lanes() {
					fields = append(fields, log.Int("lane_"+lane, len(state.Lanes[lane])))
				}
				logger.Info("Board changed", fields...)
			})

			return c.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "board websocket URL")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringSliceVar(&lanes, "lanes", nil, "lanes to show before the first board arrives; the server's set replaces them")
	return cmd
}
