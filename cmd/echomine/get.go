package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(threadsCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <archive> <conversation-id>",
	Short: "Print one conversation",
	Long: `Print one conversation with all of its messages in archive order.

Reading stops as soon as the conversation is found.

Examples:
  echomine get conversations.json 6e2d3f9b-4c8e-4d32-8f1a-7b3c5e9d2f02
  echomine get conversations.json 6e2d3f9b-4c8e-4d32-8f1a-7b3c5e9d2f02 --json`,
	Args: usageArgs(cobra.ExactArgs(2)),
	RunE: runGet,
}

var threadsCmd = &cobra.Command{
	Use:   "threads <archive> <conversation-id>",
	Short: "Print every root-to-leaf thread of a conversation",
	Long: `Print each branch of a conversation as a separate thread, from its root
message to a leaf. Edited prompts and regenerated replies appear as
distinct threads.

Examples:
  echomine threads conversations.json 6e2d3f9b-4c8e-4d32-8f1a-7b3c5e9d2f02`,
	Args: usageArgs(cobra.ExactArgs(2)),
	RunE: runThreads,
}

func runGet(cmd *cobra.Command, args []string) error {
	conv, err := rt.provider.GetByID(cmd.Context(), archive.File(args[0]), args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, conv)
	}

	writeHeader(out, conv)
	for _, m := range conv.Messages {
		writeMessage(out, m, "")
	}
	return nil
}

// threadOutput is the JSON representation of one thread.
type threadOutput struct {
	Leaf     string          `json:"leaf"`
	Messages []model.Message `json:"messages"`
}

func runThreads(cmd *cobra.Command, args []string) error {
	conv, err := rt.provider.GetByID(cmd.Context(), archive.File(args[0]), args[1])
	if err != nil {
		return err
	}
	threads := conv.AllThreads()

	out := cmd.OutOrStdout()
	if outputJSON {
		res := make([]threadOutput, 0, len(threads))
		for _, th := range threads {
			res = append(res, threadOutput{Leaf: th[len(th)-1].ID, Messages: th})
		}
		return writeJSON(out, res)
	}

	writeHeader(out, conv)
	for i, th := range threads {
		fmt.Fprintf(out, "--- thread %d/%d (%d messages) ---\n", i+1, len(threads), len(th))
		for _, m := range th {
			writeMessage(out, m, "  ")
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeHeader(w io.Writer, c *model.Conversation) {
	fmt.Fprintf(w, "%s\n", c.Title)
	fmt.Fprintf(w, "ID: %s\n", c.ID)
	fmt.Fprintf(w, "Created: %s  Updated: %s\n", c.CreatedAt.Format(time.DateTime), c.UpdatedAt.Format(time.DateTime))
	fmt.Fprintf(w, "Messages: %d  Branches: %d\n\n", c.MessageCount(), len(c.Tree().Leaves()))
}

func writeMessage(w io.Writer, m model.Message, indent string) {
	fmt.Fprintf(w, "%s[%s] %s\n", indent, m.Role, m.Timestamp.Format(time.DateTime))
	content := m.Content
	if content == "" {
		content = "(empty)"
	}
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "%s  %s\n", indent, line)
	}
	for _, ref := range m.Images {
		fmt.Fprintf(w, "%s  <attachment: %s>\n", indent, ref)
	}
	fmt.Fprintln(w)
}
