package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/analysis"
	"github.com/twputra/sentrysol-beta-v2/lib/stream"
)

func watchCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "watch <address>",
		Short: "Run a deep analysis of a wallet and follow its progress",
		Long: `Stream the analysis of a Solana or Ethereum address from the analyzer service.
The stream is checked for liveness and reconnected after unexpected drops.
Press CTRL+C to stop following it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := address.Validate(args[0]); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return watch(cmd.Context(), cmd.OutOrStdout(), o, args[0], out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the final analysis update to this JSON file")

	return cmd
}

// watch follows the analysis of addr, printing its log lines to w.
func watch(ctx context.Context, w io.Writer, o *options, addr, out string) error {
	s := stream.NewSession(o.server, addr, stream.Options{Log: o.log})
	s.OnLog = func(line string) { fmt.Fprintln(w, line) }
	s.OnState = func(st stream.State) { o.log.WithField("state", st).Debug("session state") }

	sig, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-sig.Done()
		s.Stop()
	}()

	fmt.Fprintf(w, "Analyzing %s on %s\n", addr, o.server)
	if err := s.Run(ctx); err != nil {
		return err
	}
	if s.State() == stream.Stopped {
		fmt.Fprintln(w, "Stopped.")
		return nil
	}

	res := s.Result()
	if res == nil {
		return nil
	}
	if out != "" {
		if err := os.WriteFile(out, res, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "Result written to %s\n", out)
	}

	var u analysis.Update
	if err := json.Unmarshal(res, &u); err != nil {
		return fmt.Errorf("cannot read analysis result: %w", err)
	}
	sum := analysis.Summarize(u)
	fmt.Fprintf(w, "Risk score: %.0f/100 (%s)\n", sum.RiskScore, sum.RiskLevel)
	if len(sum.Threats) > 0 {
		fmt.Fprintf(w, "Threats: %s\n", strings.Join(sum.Threats, ", "))
	}
	return nil
}
