package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

var listLimit int

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Stop after this many conversations (0 = all)")
}

var listCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "List conversations in an archive",
	Long: `List every valid conversation in archive order.

Examples:
  # Table of conversations
  echomine list conversations.json

  # First ten, one JSON object per line
  echomine list conversations.json --limit 10 --json`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runList,
}

// conversationSummary is the list representation of a conversation.
type conversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
}

func summarize(c *model.Conversation) conversationSummary {
	return conversationSummary{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  c.MessageCount(),
	}
}

func runList(cmd *cobra.Command, args []string) error {
	if listLimit < 0 {
		return usagef("--limit must not be negative")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var skipped int
	defer func() { reportSkipped(cmd, skipped) }()

	enc := json.NewEncoder(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if !outputJSON {
		fmt.Fprintln(tw, "ID\tCREATED\tMESSAGES\tTITLE")
	}

	n := 0
	for conv, err := range rt.provider.Stream(ctx, archive.File(args[0]), streamOptions(ctx, &skipped)) {
		if err != nil {
			tw.Flush()
			return err
		}
		// one object per line keeps output streaming
		if outputJSON {
			if err := enc.Encode(summarize(conv)); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", conv.ID, conv.CreatedAt.Format(time.DateTime), conv.MessageCount(), conv.Title)
		}
		n++
		if listLimit > 0 && n >= listLimit {
			break
		}
	}
	if !outputJSON {
		return tw.Flush()
	}
	return nil
}
