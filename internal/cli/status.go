package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/failover/internal/infra/redis"
	"github.com/vietddude/failover/internal/infra/rpc"
)

var statusSession string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the published health snapshot of a session",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "session id (lists sessions when empty)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is not configured")
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	reader := redisclient.NewReader(client)
	out := cmd.OutOrStdout()

	if statusSession == "" {
		ids, err := reader.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	snap, err := reader.Load(cmd.Context(), statusSession)
	if err != nil {
		return err
	}
	printSnapshot(out, snap)
	return nil
}

func printSnapshot(out io.Writer, snap rpc.HealthSnapshot) {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ENDPOINT\tHEALTHY\tCONSECUTIVE\tFAILURES\tLAST\tAT")
	for _, id := range ids {
		c := snap[id]
		at := "-"
		if !c.LastFailureAt.IsZero() {
			at = c.LastFailureAt.Format(time.RFC3339)
		}
		last := string(c.LastClassification)
		if last == "" {
			last = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d\t%d\t%s\t%s\n", id, c.Healthy, c.ConsecutiveFailures, c.Failures, last, at)
	}
	_ = w.Flush()
}
