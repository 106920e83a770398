package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/tether/pkg/gateway"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check gateway connectivity",
	Long:  `Dial the gateway and perform the protocol handshake to verify it is reachable and the credentials work.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	caller, err := gateway.NewCaller(gatewayConfig(cfg, log))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gateway: %s\n", cfg.Gateway.URL)

	start := time.Now()
	if !caller.CheckConnection(context.Background()) {
		fmt.Fprintln(out, "Status: unreachable")
		return fmt.Errorf("gateway handshake failed")
	}

	fmt.Fprintln(out, "Status: connected")
	fmt.Fprintf(out, "Handshake: %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "Protocol: v%d\n", gateway.MaxProtocolVersion)
	return nil
}
