package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/tether/pkg/conversation"
	"github.com/harun/tether/pkg/gateway"
	"github.com/harun/tether/pkg/reconcile"
	"github.com/harun/tether/pkg/session"
)

var (
	sendSession  string
	sendThinking string
	sendNoStream bool
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and stream the reply",
	Long: `Send a message into a session and print the agent's reply as it
streams. Without --session a session is resolved or created automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSession, "session", "", "session key or friendly id")
	sendCmd.Flags().StringVar(&sendThinking, "thinking", "", "reasoning level for this turn")
	sendCmd.Flags().BoolVar(&sendNoStream, "no-stream", false, "print only the final message")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caller, err := gateway.NewCaller(gatewayConfig(cfg, log))
	if err != nil {
		return err
	}

	resolver := session.NewResolver(caller, "tether-cli", log.GetZerolog())
	resolved, err := resolver.ResolveOrCreate(ctx, sendSession)
	if err != nil {
		return err
	}

	sub, err := gateway.NewSubscriber(gatewayConfig(cfg, log), gateway.SubscriberOptions{
		PingInterval:   cfg.PingInterval(),
		ReconnectDelay: cfg.ReconnectDelay(),
		AutoReconnect:  cfg.Subscribe.AutoReconnect,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	if err := sub.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect event stream: %w", err)
	}
	if err := sub.Subscribe(resolved.SessionKey); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	stream := conversation.NewStream(sub, reconcile.New(log.GetZerolog()), log.GetZerolog())
	defer stream.Close()

	client := conversation.NewClient(caller, log.GetZerolog())
	runID, err := client.Send(ctx, resolved.SessionKey, args[0], conversation.SendOptions{
		Thinking: sendThinking,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return followRun(ctx, cmd, stream, runID)
}

// followRun prints updates for one run until it finalizes.
func followRun(ctx context.Context, cmd *cobra.Command, stream *conversation.Stream, runID string) error {
	out := cmd.OutOrStdout()
	printed := 0

	for {
		select {
		case <-ctx.Done():
			stream.Cancel(runID)
			fmt.Fprintln(out, "\n[cancelled]")
			return nil

		case u, ok := <-stream.Updates():
			if !ok {
				return fmt.Errorf("event stream closed before run %s finished", runID)
			}
			if u.RunID != runID {
				continue
			}

			switch u.Kind {
			case reconcile.UpdateDelta:
				if !sendNoStream && len(u.Text) > printed {
					fmt.Fprint(out, u.Text[printed:])
					printed = len(u.Text)
				}

			case reconcile.UpdateToolCall:
				if !sendNoStream && u.Tool != nil && u.Tool.Phase == reconcile.ToolPhaseStart {
					fmt.Fprintf(out, "\n[tool: %s]\n", u.Tool.Name)
				}

			case reconcile.UpdateFinal, reconcile.UpdateFinalFallback:
				if sendNoStream {
					fmt.Fprintln(out, u.Text)
				} else if len(u.Text) > printed {
					fmt.Fprint(out, u.Text[printed:])
				}
				fmt.Fprintln(out)
				return nil

			case reconcile.UpdateError:
				if u.Final() {
					return fmt.Errorf("run failed: %s", u.ErrorMessage)
				}
				fmt.Fprintf(out, "\n[error: %s]\n", u.ErrorMessage)

			case reconcile.UpdateAborted:
				fmt.Fprintln(out, "\n[aborted]")
				return nil
			}
		}
	}
}
