package main

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nidhogg/aibrain/internal/workflow"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		user      string
		iface     string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one request through the agents and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := build(cmd.Context(), cfg, logger, buildOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			res := a.workflow.Process(cmd.Context(), workflow.Request{
				Message:   strings.Join(args, " "),
				UserID:    user,
				Interface: iface,
				SessionID: sessionID,
			})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "user id")
	cmd.Flags().StringVar(&iface, "interface", string(workflow.InterfaceAPI), "interface: voice, chat, messaging or api")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	return cmd
}
