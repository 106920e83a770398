package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/tether/pkg/conversation"
	"github.com/harun/tether/pkg/gateway"
	"github.com/harun/tether/pkg/session"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [session]",
	Short: "Show a session's message history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum messages to fetch")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	caller, err := gateway.NewCaller(gatewayConfig(cfg, log))
	if err != nil {
		return err
	}

	hint := ""
	if len(args) > 0 {
		hint = args[0]
	}

	ctx := context.Background()
	resolver := session.NewResolver(caller, "tether-cli", log.GetZerolog())
	resolved, err := resolver.ResolveOrCreate(ctx, hint)
	if err != nil {
		return err
	}

	client := conversation.NewClient(caller, log.GetZerolog())
	messages, err := client.History(ctx, resolved.SessionKey, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages")
		return nil
	}
	for _, m := range messages {
		printMessage(out, m)
	}
	return nil
}

func printMessage(out io.Writer, m gateway.Message) {
	fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Text())
}
