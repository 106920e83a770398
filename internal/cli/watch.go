package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/internal/metrics"
	"github.com/harun/tether/pkg/conversation"
	"github.com/harun/tether/pkg/gateway"
	"github.com/harun/tether/pkg/reconcile"
	"github.com/harun/tether/pkg/session"
)

var (
	watchSession     string
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a session's event stream",
	Long: `Stay connected to the gateway and print finalized messages and tool
activity for a session as they happen. Reconnects automatically and picks up
config changes without a restart.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSession, "session", "", "session key or friendly id")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	resolved, err := resolver.ResolveOrCreate(ctx, watchSession)
	if err != nil {
		return err
	}

	sub, err := gateway.NewSubscriber(gatewayConfig(cfg, log), gateway.SubscriberOptions{
		PingInterval:   cfg.PingInterval(),
		ReconnectDelay: cfg.ReconnectDelay(),
		AutoReconnect:  true,
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

	// Credentials rotate; a restart should not be needed to notice.
	loader := config.NewLoader(cfgFile)
	watcher, err := config.NewWatcher(loader, func(updated *config.Config) {
		zl := log.GetZerolog()
		zl.Info().Str("url", updated.Gateway.URL).Msg("Configuration changed, applies on next reconnect")
	})
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	if watchMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(watchMetricsAddr, mux); err != nil {
				zl := log.GetZerolog()
				zl.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	stream := conversation.NewStream(sub, reconcile.New(log.GetZerolog()), log.GetZerolog())
	defer stream.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching session %s\n", resolved.SessionKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-stream.Updates():
			if !ok {
				return nil
			}
			printUpdate(out, u)
		}
	}
}

func printUpdate(out io.Writer, u reconcile.Update) {
	switch u.Kind {
	case reconcile.UpdateToolCall:
		if u.Tool != nil && u.Tool.Phase == reconcile.ToolPhaseStart {
			fmt.Fprintf(out, "[%s] tool %s started\n", u.RunID, u.Tool.Name)
		}
	case reconcile.UpdateFinal, reconcile.UpdateFinalFallback:
		fmt.Fprintf(out, "[%s] %s\n", u.RunID, u.Text)
	case reconcile.UpdateError:
		fmt.Fprintf(out, "[%s] error: %s\n", u.RunID, u.ErrorMessage)
	case reconcile.UpdateAborted:
		fmt.Fprintf(out, "[%s] aborted\n", u.RunID)
	}
}
