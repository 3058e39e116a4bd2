package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

var (
	// search command flags
	searchKeywords []string
	searchPhrases  []string
	searchMatch    string
	searchExclude  []string
	searchRole     string
	searchTitle    string
	searchFrom     string
	searchTo       string
	searchLimit    int
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringSliceVarP(&searchKeywords, "keyword", "k", nil, "Keyword to match (repeatable or comma separated)")
	searchCmd.Flags().StringArrayVar(&searchPhrases, "phrase", nil, "Exact phrase to match (repeatable)")
	searchCmd.Flags().StringVar(&searchMatch, "match", string(search.MatchAny), "Keyword match mode: any or all")
	searchCmd.Flags().StringSliceVar(&searchExclude, "exclude", nil, "Drop conversations containing this keyword")
	searchCmd.Flags().StringVar(&searchRole, "role", "", "Only match messages by role: user, assistant or system")
	searchCmd.Flags().StringVar(&searchTitle, "title", "", "Only conversations whose title contains this text")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "Created on or after (YYYY-MM-DD or RFC 3339)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "Created on or before (YYYY-MM-DD or RFC 3339)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", -1, "Maximum results (default from config; 0 = unlimited)")
}

var searchCmd = &cobra.Command{
	Use:   "search <archive> [keyword...]",
	Short: "Search conversations with BM25 ranking",
	Long: `Search an archive. A conversation matches when any phrase occurs verbatim
or its keywords match (any or all), then exclusions, role, title and date
filters apply. Matches are ranked by BM25 relevance.

Without keywords or phrases the filters alone select conversations, newest
first.

Examples:
  # Keywords from arguments
  echomine search conversations.json quicksort partition

  # Every keyword must appear, assistant messages only
  echomine search conversations.json -k goroutine -k channel --match all --role assistant

  # Exact phrase, excluding a keyword, in March 2024
  echomine search conversations.json --phrase "race condition" --exclude java \
    --from 2024-03-01 --to 2024-03-31

  # Filters only
  echomine search conversations.json --title "algo" --limit 5 --json`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runSearch,
}

// searchHit is the output representation of one result.
type searchHit struct {
	Rank              int       `json:"rank"`
	Score             float64   `json:"score"`
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	CreatedAt         time.Time `json:"created_at"`
	MatchCount        int       `json:"match_count"`
	MatchedMessageIDs []string  `json:"matched_message_ids"`
	Snippet           string    `json:"snippet"`
}

func buildQuery(keywords []string) (search.Query, error) {
	q := search.Query{
		Keywords:        append(append([]string(nil), searchKeywords...), keywords...),
		Phrases:         searchPhrases,
		MatchMode:       search.MatchMode(strings.ToLower(searchMatch)),
		ExcludeKeywords: searchExclude,
		Role:            model.Role(strings.ToLower(searchRole)),
		TitleFilter:     searchTitle,
		Limit:           searchLimit,
	}
	if q.Limit < 0 {
		q.Limit = rt.cfg.Search.DefaultLimit
	}

	var err error
	if q.From, err = parseDate(searchFrom, false); err != nil {
		return q, usagef("--from: %v", err)
	}
	if q.To, err = parseDate(searchTo, true); err != nil {
		return q, usagef("--to: %v", err)
	}
	return q, q.Validate()
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. A date used
// as an upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not YYYY-MM-DD or RFC 3339", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args[1:])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var skipped int
	defer func() { reportSkipped(cmd, skipped) }()

	var hits []searchHit
	for r, err := range rt.provider.Search(ctx, archive.File(args[0]), q, streamOptions(ctx, &skipped)) {
		if err != nil {
			return err
		}
		hits = append(hits, searchHit{
			Rank:              len(hits) + 1,
			Score:             r.Score,
			ID:                r.Conversation.ID,
			Title:             r.Conversation.Title,
			CreatedAt:         r.Conversation.CreatedAt,
			MatchCount:        r.MatchCount,
			MatchedMessageIDs: r.MatchedMessageIDs,
			Snippet:           r.Snippet,
		})
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if hits == nil {
			hits = []searchHit{}
		}
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No matching conversations.")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(out, "%d. [%.3f] %s (%s, %s, %d matching)\n", h.Rank, h.Score, h.Title, h.ID, h.CreatedAt.Format(time.DateOnly), h.MatchCount)
		fmt.Fprintf(out, "   %s\n", h.Snippet)
	}
	return nil
}
