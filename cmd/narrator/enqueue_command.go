package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "enqueue <id>...",
		Short: "Ask the daemon to (re)generate articles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := bus.Connect(cmd.Context(), cfg.Bus, ctx.logger())
			if err != nil {
				return fmt.Errorf("connect to daemon bus: %w", err)
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			for _, arg := range args {
				id := manuscript.IDFromPath(arg)
				data, err := json.Marshal(protocol.EnqueueRequest{ID: id, Source: "cli"})
				if err != nil {
					return err
				}
				if _, err := client.Conn().Request(protocol.SubjectEnqueue, data, timeout); err != nil {
					return fmt.Errorf("enqueue %s: %w", id, err)
				}
				fmt.Fprintf(out, "Queued %s\n", displayID(id))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the daemon to acknowledge")
	return cmd
}

func displayID(id string) string {
	if id == manuscript.HomeID {
		return "(home)"
	}
	return id
}
