package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/vietddude/failover/internal/control"
	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/rpc"
)

var (
	probeCapability string
	probeStrategy   string
	probePath       string
	probeMethod     string
	probeData       string
	probeTimeout    time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Execute one request through the engine and print the outcome",
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeCapability, "capability", string(domain.CapabilityLLM), "capability to request")
	probeCmd.Flags().StringVar(&probeStrategy, "strategy", "", "strategy override (primary-only, fallback-on-error, round-robin, concurrent-race)")
	probeCmd.Flags().StringVar(&probePath, "path", "", "request path appended to the endpoint address")
	probeCmd.Flags().StringVar(&probeMethod, "method", http.MethodPost, "HTTP method")
	probeCmd.Flags().StringVar(&probeData, "data", "", "JSON request body")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 2*time.Minute, "overall deadline")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	svc, err := control.NewService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer func() { _ = svc.Stop(context.Background()) }()

	op := rpc.Operation{Name: "probe", Path: probePath, Method: probeMethod}
	if probeData != "" {
		if !json.Valid([]byte(probeData)) {
			return errors.New("--data is not valid JSON")
		}
		op.Payload = json.RawMessage(probeData)
	}

	capability := domain.Capability(probeCapability)
	strategy := svc.Engine().Policy(capability).Strategy
	if probeStrategy != "" {
		if strategy, err = domain.ParseStrategy(probeStrategy); err != nil {
			return err
		}
	}

	engine := svc.Engine()
	session := engine.StartSession()
	defer engine.EndSession(session)

	res, execErr := engine.ExecuteWith(ctx, session, capability, strategy, op)
	out := cmd.OutOrStdout()

	var agg *rpc.AggregateFailure
	switch {
	case execErr == nil:
		fmt.Fprintf(out, "endpoint: %s (attempts %d, %s)\n", res.EndpointID, res.Attempts, res.Latency.Round(time.Millisecond))
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res.Value)
	case errors.As(execErr, &agg):
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tCLASSIFICATION\tATTEMPTS\tERROR")
		for _, f := range agg.Failures {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.EndpointID, f.Classification, f.Attempts, f.Message())
		}
		_ = w.Flush()
	default:
		return execErr
	}

	snap, err := engine.GetHealthStatus(session)
	if err == nil {
		fmt.Fprintln(out)
		printSnapshot(out, snap)
	}

	published, err := svc.PublishSession(ctx, session)
	switch {
	case err != nil:
		slog.Warn("Failed to publish probe snapshot", "session", session, "error", err)
	case published:
		fmt.Fprintf(out, "\nsnapshot published, inspect with: failover status --session %s\n", session)
	}
	return execErr
}
