// Package main implements the echomine CLI for listing, searching, and
// reading exported chat archives.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
)

// Exit codes.
const (
	exitOK          = 0
	exitOperational = 1
	exitUsage       = 2
)

var (
	// global flags
	providerName string
	outputJSON   bool
	configPath   string
	showMetrics  bool

	// version information
	version = "dev"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if ferr := finish(rootCmd.ErrOrStderr()); ferr != nil && err == nil {
		err = ferr
	}
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	code := exitCode(err)
	if code == exitUsage && cmd != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Run '%s --help' for usage.\n", cmd.CommandPath())
	}
	return code
}

var rootCmd = &cobra.Command{
	Use:   "echomine",
	Short: "Stream and search exported AI chat archives",
	Long: `echomine reads conversation exports from ChatGPT (openai) and claude.ai
(claude) without loading the whole archive into memory.

Malformed conversations are skipped with a warning on stderr; everything
else is processed. Command output goes to stdout.

Examples:
  # List conversations
  echomine list conversations.json

  # Search with BM25 ranking
  echomine search conversations.json -k quicksort -k partition --limit 5

  # Show one conversation from a claude.ai export as JSON
  echomine get --provider claude conversations.json 5f1c2e8a-... --json`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "Archive dialect: openai or claude (default from config, else openai)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/echomine/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print Prometheus metrics to stderr on exit")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
}

// usageError marks invalid invocations.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// usageArgs wraps a positional argument validator so its failures exit
// with the usage code.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, archive.ErrInvalidQuery),
		strings.HasPrefix(err.Error(), "unknown command"):
		return exitUsage
	default:
		return exitOperational
	}
}
