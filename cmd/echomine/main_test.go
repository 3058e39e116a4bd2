package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aucontraire/echomine-sub001/internal/search"
	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

var (
	openaiArchive = filepath.Join("..", "..", "pkg", "provider", "openai", "testdata", "conversations.json")
	claudeArchive = filepath.Join("..", "..", "pkg", "provider", "claude", "testdata", "conversations.json")
)

func resetFlags() {
	providerName, outputJSON, configPath, showMetrics = "", false, "", false
	listLimit = 0
	searchKeywords, searchPhrases, searchExclude = nil, nil, nil
	searchMatch = string(search.MatchAny)
	searchRole, searchTitle, searchFrom, searchTo = "", "", "", ""
	searchLimit = -1
}

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	code := execute()
	return stdout.String(), stderr.String(), code
}

func TestList(t *testing.T) {
	stdout, stderr, code := runCLI(t, "list", openaiArchive)
	require.Equal(t, exitOK, code, stderr)

	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "conv-1")
	assert.Contains(t, stdout, "Algo Insights")
	assert.Contains(t, stdout, "Untitled conversation")
	assert.NotContains(t, stdout, "conv-3")
	assert.Contains(t, stderr, "4 record(s) or message(s) skipped")
}

func TestList_JSONLines(t *testing.T) {
	stdout, _, code := runCLI(t, "list", openaiArchive, "--json", "--limit", "2")
	require.Equal(t, exitOK, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	var first conversationSummary
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "conv-1", first.ID)
	assert.Equal(t, 6, first.Messages)
}

func TestList_ClaudeProvider(t *testing.T) {
	stdout, _, code := runCLI(t, "list", "--provider", "claude", claudeArchive)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "5f1c2e8a-3b7d-4c21-9e0f-6a2b4d8c1e01")
}

func TestSearch_JSON(t *testing.T) {
	stdout, stderr, code := runCLI(t, "search", openaiArchive, "partition", "--json")
	require.Equal(t, exitOK, code, stderr)

	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(stdout), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, "conv-1", hits[0].ID)
	assert.Equal(t, 3, hits[0].MatchCount)
}

func TestSearch_Text(t *testing.T) {
	stdout, _, code := runCLI(t, "search", openaiArchive, "-k", "hello")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "1. [")
	assert.Contains(t, stdout, "Broken branch")

	stdout, _, code = runCLI(t, "search", openaiArchive, "-k", "nonexistentword")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "No matching conversations.")
}

func TestSearch_FilterOnlyNewestFirst(t *testing.T) {
	stdout, _, code := runCLI(t, "search", openaiArchive, "--from", "2024-03-01", "--json")
	require.Equal(t, exitOK, code)

	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(stdout), &hits))
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
		assert.Equal(t, 1.0, h.Score)
	}
	assert.Equal(t, []string{"conv-4", "conv-2", "conv-1"}, ids)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no archive", args: []string{"list"}},
		{name: "unknown flag", args: []string{"list", openaiArchive, "--bogus"}},
		{name: "unknown provider", args: []string{"list", "--provider", "gemini", openaiArchive}},
		{name: "bad match mode", args: []string{"search", openaiArchive, "x", "--match", "most"}},
		{name: "bad role", args: []string{"search", openaiArchive, "x", "--role", "robot"}},
		{name: "inverted dates", args: []string{"search", openaiArchive, "--from", "2024-04-01", "--to", "2024-03-01"}},
		{name: "bad date", args: []string{"search", openaiArchive, "--from", "last week"}},
		{name: "negative list limit", args: []string{"list", openaiArchive, "--limit", "-3"}},
		{name: "get needs id", args: []string{"get", openaiArchive}},
		{name: "unknown command", args: []string{"frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, code := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
			assert.Empty(t, stdout)
		})
	}
}

func TestOperationalErrors(t *testing.T) {
	t.Run("missing archive", func(t *testing.T) {
		_, stderr, code := runCLI(t, "list", filepath.Join(t.TempDir(), "missing.json"))
		assert.Equal(t, exitOperational, code)
		assert.Contains(t, stderr, "archive not found")
	})

	t.Run("malformed archive", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"id": `), 0o600))
		_, stderr, code := runCLI(t, "search", path, "x")
		assert.Equal(t, exitOperational, code)
		assert.Contains(t, stderr, "malformed archive")
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, stderr, code := runCLI(t, "get", openaiArchive, "conv-404")
		assert.Equal(t, exitOperational, code)
		assert.Contains(t, stderr, "conversation not found: conv-404")
	})

	t.Run("explicit config must exist", func(t *testing.T) {
		_, _, code := runCLI(t, "list", "--config", filepath.Join(t.TempDir(), "nope.yaml"), openaiArchive)
		assert.Equal(t, exitOperational, code)
	})
}

func TestGet(t *testing.T) {
	stdout, _, code := runCLI(t, "get", openaiArchive, "conv-2", "--json")
	require.Equal(t, exitOK, code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal([]byte(stdout), &conv))
	assert.Equal(t, "conv-2", conv.ID)
	assert.Equal(t, "Untitled conversation", conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "an untitled chat", conv.Messages[0].Content)

	stdout, _, code = runCLI(t, "get", openaiArchive, "conv-1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Algo Insights")
	assert.Contains(t, stdout, "[user]")
	assert.Contains(t, stdout, "<attachment: file-service://file-abc>")
	assert.Contains(t, stdout, "Messages: 6  Branches: 2")
}

func TestThreads(t *testing.T) {
	stdout, _, code := runCLI(t, "threads", openaiArchive, "conv-1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "thread 1/2 (5 messages)")
	assert.Contains(t, stdout, "thread 2/2 (3 messages)")

	stdout, _, code = runCLI(t, "threads", openaiArchive, "conv-1", "--json")
	require.Equal(t, exitOK, code)
	var threads []threadOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &threads))
	require.Len(t, threads, 2)
	assert.Equal(t, "a2", threads[0].Leaf)
	assert.Equal(t, "a1b", threads[1].Leaf)
}

func TestMetricsFlag(t *testing.T) {
	_, stderr, code := runCLI(t, "list", openaiArchive, "--metrics")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "echomine_ingest_records_decoded_total")
}

func TestConfigDefaultLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("search:\n  default_limit: 1\n"), 0o600))

	stdout, _, code := runCLI(t, "search", openaiArchive, "--from", "2024-01-01", "--json", "--config", cfg)
	require.Equal(t, exitOK, code)
	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(stdout), &hits))
	assert.Len(t, hits, 1)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUsage, exitCode(usagef("bad")))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("wrapped: %w", &archive.InvalidQueryError{Field: "limit"})))
	assert.Equal(t, exitOperational, exitCode(&archive.NotFoundError{Kind: "archive", Name: "x"}))
	assert.Equal(t, exitOperational, exitCode(errors.New("boom")))
}

func TestParseDate(t *testing.T) {
	from, err := parseDate("2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)

	to, err := parseDate("2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 59, 59, 999_999_999, time.UTC), to)

	ts, err := parseDate("2024-03-01T12:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), ts)

	zero, err := parseDate("", false)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = parseDate("03/01/2024", false)
	assert.Error(t, err)
}
