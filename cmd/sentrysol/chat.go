package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twputra/sentrysol-beta-v2/lib/stream"
)

func chatCmd(o *options) *cobra.Command {
	var (
		system string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask the SentrySol security assistant",
		Long: `Send a question to the security assistant and print its answer as it streams.
When the answer names a wallet address, --follow starts its deep analysis.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			req := stream.ChatRequest{Message: strings.Join(args, " "), SystemPrompt: system}

			// JSON answers are printed once interpreted
			var streamed, structured bool
			reply, err := stream.Chat(cmd.Context(), nil, o.server, req, func(d string) {
				if !streamed && !structured && strings.TrimSpace(d) != "" {
					structured = strings.HasPrefix(strings.TrimSpace(d), "{")
					streamed = !structured
				}
				if streamed {
					fmt.Fprint(w, d)
				}
			})
			if err != nil {
				return err
			}
			if streamed {
				fmt.Fprintln(w)
			} else {
				fmt.Fprintln(w, reply.Content)
			}

			if reply.Address == "" {
				return nil
			}
			fmt.Fprintf(w, "Detected address: %s\n", reply.Address)
			if !follow {
				return nil
			}
			return watch(cmd.Context(), w, o, reply.Address, "")
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "system prompt replacing the default one")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "analyze the address named in the answer")

	return cmd
}
