package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/tether/pkg/conversation"
	"github.com/harun/tether/pkg/gateway"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage gateway sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-key>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	caller, err := gateway.NewCaller(gatewayConfig(cfg, log))
	if err != nil {
		return err
	}

	client := conversation.NewClient(caller, log.GetZerolog())
	sessions, err := client.Sessions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tFRIENDLY ID\tLABEL\tMESSAGES\tUPDATED")
	for _, s := range sessions {
		updated := ""
		if s.UpdatedAt > 0 {
			updated = time.UnixMilli(s.UpdatedAt).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.Key, s.FriendlyID, s.Label, s.MessageCount, updated)
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	caller, err := gateway.NewCaller(gatewayConfig(cfg, log))
	if err != nil {
		return err
	}

	client := conversation.NewClient(caller, log.GetZerolog())
	if err := client.DeleteSession(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
