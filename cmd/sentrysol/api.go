package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/twputra/sentrysol-beta-v2/analyzer"
	"github.com/twputra/sentrysol-beta-v2/lib/address"
	"github.com/twputra/sentrysol-beta-v2/lib/store"
)

// requestTimeout bounds the plain API calls.
const requestTimeout = 15 * time.Second

// do runs an API request and decodes the body of its reply into v.
func do(ctx context.Context, method, url string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var res analyzer.Response
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("unexpected reply (status %d): %w", resp.StatusCode, err)
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(res.Body, v)
}

func healthCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the state of the analyzer service and its dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h analyzer.Health
			if err := do(cmd.Context(), http.MethodGet, o.url("/health"), &h); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Status:\t%s\n", h.Status)
			fmt.Fprintf(w, "Mode:\t%s\n", h.Mode)
			fmt.Fprintf(w, "Time:\t%s\n", h.Timestamp)
			names := make([]string, 0, len(h.Services))
			for n := range h.Services {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(w, "  %s:\t%s\n", n, h.Services[n])
			}
			return w.Flush()
		},
	}
}

func historyCmd(o *options) *cobra.Command {
	var (
		limit int
		del   bool
	)
	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "List (or delete) the stored analyses of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := args[0]
			if _, err := address.Validate(addr); err != nil {
				return fmt.Errorf("%s: %w", addr, err)
			}
			out := cmd.OutOrStdout()

			if del {
				var res struct {
					Deleted int64 `json:"deleted"`
				}
				if err := do(cmd.Context(), http.MethodDelete, o.url("/history/"+addr), &res); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d analyses of %s\n", res.Deleted, addr)
				return nil
			}

			uri := o.url("/history/" + addr)
			if limit > 0 {
				uri += "?limit=" + strconv.Itoa(limit)
			}
			var h []store.Analysis
			if err := do(cmd.Context(), http.MethodGet, uri, &h); err != nil {
				return err
			}
			if len(h) == 0 {
				fmt.Fprintf(out, "No analyses of %s\n", addr)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tSCORE\tLEVEL\tTHREATS\tID")
			for _, a := range h {
				threats := gjson.GetBytes(a.AnalysisData,
					"analysis_result.threat_analysis.potential_threats.#.threat_type").Array()
				fmt.Fprintf(w, "%s\t%.0f\t%s\t%d\t%s\n", a.CreatedAt.Local().Format(time.DateTime), a.RiskScore,
					a.RiskLevel, len(threats), a.ID)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum analyses listed (server default when 0)")
	cmd.Flags().BoolVar(&del, "delete", false, "delete every stored analysis of the address")

	return cmd
}
