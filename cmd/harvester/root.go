package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/harvester/internal/config"
)

// NewRootCmd creates the root command for harvester.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable, deduplicating crawl toolkit",
		Long: `harvester crawls work queues that survive interruption.

Every job records each finished item in a progress store and writes its
results to a deduplicating sink before the item is marked complete, so a run
can be stopped with Ctrl-C and restarted without fetching anything twice.

Jobs:
  suggest    harvest search autocomplete suggestions for a root term
  translate  translate a word list through a LibreTranslate compatible API
  articles   export public-account articles as Markdown`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.StringP("config", "c", "",
		"Configuration file path (default: "+config.DefaultConfigFile+" in current or home directory)")
	flags.String("backend", config.BackendFile, "Progress and result storage: file or sqlite")
	flags.String("state-dir", "", "Directory for progress, cursors and the run history (default: XDG data directory)")
	flags.String("proxy", "", "Route requests through a SOCKS5 proxy (e.g., socks5://127.0.0.1:9050)")
	flags.Bool("embedded-tor", false, "Start an embedded Tor daemon and route requests through it")
	flags.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")
	flags.String("report", "text", "Run report format: text, markdown or json")
	flags.String("log-format", "text", "Log format: text or json")

	cmd.AddCommand(NewSuggestCmd())
	cmd.AddCommand(NewTranslateCmd())
	cmd.AddCommand(NewArticlesCmd())
	cmd.AddCommand(NewInfoCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
