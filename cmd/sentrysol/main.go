// Command sentrysol is the terminal client of the analyzer service: it watches analysis streams, chats with the
// security assistant and reads the analysis history.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twputra/sentrysol-beta-v2/analyzer"
	"github.com/twputra/sentrysol-beta-v2/lib/logging"
)

// ServerDefault is the analyzer location used when --server is not given.
const ServerDefault = "http://localhost:8000"

// options are the persistent flags shared by every command.
type options struct {
	server   string
	logLevel string
	log      *logrus.Logger
}

func (o *options) url(path string) string {
	return strings.TrimRight(o.server, "/") + path
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "sentrysol",
		Short:         "SentrySol - wallet security analysis client",
		Version:       analyzer.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			o.log = logging.NewWithOutput(o.logLevel, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&o.server, "server", "s", envOr("SENTRY_SERVER", ServerDefault),
		"analyzer service URL")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level of the client")

	root.AddCommand(watchCmd(o))
	root.AddCommand(chatCmd(o))
	root.AddCommand(healthCmd(o))
	root.AddCommand(historyCmd(o))
	root.AddCommand(reportsCmd(o))

	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
