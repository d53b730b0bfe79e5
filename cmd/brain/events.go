package main

import (
	"fmt"

	"github.com/nidhogg/aibrain/internal/session"
	"github.com/spf13/cobra"
)

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		stream string
		from   string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the request events published to Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Database.Redis.URL == "" {
				return fmt.Errorf("database.redis.url is not configured")
			}
			rdb, err := session.Connect(cmd.Context(), cfg.Database.Redis.URL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			bus := session.NewEventBus(rdb, stream, logger)
			out := cmd.OutOrStdout()
			for ev := range bus.Subscribe(cmd.Context(), from) {
				status := "ok"
				if ev.Error != "" {
					status = "error: " + ev.Error
				}
				fmt.Fprintf(out, "%s  %-10s %-20s %-9s %5dms  actions=%d  %s\n",
					ev.Timestamp.Format("15:04:05"), ev.Interface, ev.Agent, ev.UserID,
					ev.Duration, ev.Actions, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", session.DefaultStream, "Redis stream name")
	cmd.Flags().StringVar(&from, "from", "$", "stream id to start after ($ for new events only, 0 for all)")
	return cmd
}
