package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/client"
)

func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history",
		GroupID: gBasic,
		Short:   "List recent parking cycles",
		Long:    `List the most recent parking cycles recorded in the daemon's journal, newest first.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("invalid limit: %d", limit)
			}

			cycles, err := apiClient.GetHistory(limit)
			if errors.Is(err, client.ErrUnavailable) {
				return fmt.Errorf("the daemon keeps no history, restart it with --db: %w", err)
			}
			if err != nil {
				return err
			}

			if len(cycles) == 0 {
				cmd.Println("No parking cycles recorded yet.")
				return nil
			}

			for _, c := range cycles {
				cmd.Printf("%s  %-4s  %-10s  %8s  %s",
					c.StartedAt.Local().Format(time.DateTime),
					c.Role,
					bold("%s", c.Outcome),
					c.Duration().Round(time.Millisecond),
					c.ID,
				)
				if c.Error != "" {
					cmd.Printf("  (%s)", c.Error)
				}
				cmd.Println()
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of cycles to show")

	return cmd
}
