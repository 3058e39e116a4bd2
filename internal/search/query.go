// Package search ranks conversations against multi-criteria queries while
// streaming an archive once.
//
// Matching happens in two stages per conversation. Stage one is disjunctive:
// any exact phrase, or the keyword set under the query's match mode. Stage
// two is conjunctive: exclusions, title filter and date range must all pass.
// Conversations failing stage one are discarded immediately; only matches are
// buffered for BM25 scoring, so memory follows the match count rather than
// the archive size.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

// MatchMode selects how keywords combine. It never applies to phrases.
type MatchMode string

const (
	// MatchAny requires at least one keyword.
	MatchAny MatchMode = "any"
	// MatchAll requires every keyword.
	MatchAll MatchMode = "all"
)

// Query describes a search. Every field is optional.
type Query struct {
	Keywords        []string
	Phrases         []string
	MatchMode       MatchMode
	ExcludeKeywords []string

	// Role restricts which messages are scanned for matching.
	Role model.Role

	// TitleFilter is a case-insensitive substring of the title.
	TitleFilter string

	// From and To bound CreatedAt inclusively. Zero values are open.
	From time.Time
	To   time.Time

	// Limit caps the number of results after ranking. Zero means no cap.
	Limit int
}

// Validate reports the first field that cannot be honoured.
func (q Query) Validate() error {
	switch q.MatchMode {
	case "", MatchAny, MatchAll:
	default:
		return &archive.InvalidQueryError{Field: "match_mode", Reason: fmt.Sprintf("must be %q or %q, got %q", MatchAny, MatchAll, q.MatchMode)}
	}
	if q.Role != "" && !q.Role.Valid() {
		return &archive.InvalidQueryError{Field: "role", Reason: fmt.Sprintf("unknown role %q", q.Role)}
	}
	if q.Limit < 0 {
		return &archive.InvalidQueryError{Field: "limit", Reason: fmt.Sprintf("must not be negative, got %d", q.Limit)}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return &archive.InvalidQueryError{
			Field:  "date_range",
			Reason: fmt.Sprintf("from %s is after to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339)),
		}
	}
	return nil
}

// HasContentCriteria reports whether the query has keywords or phrases.
// Queries without them are pure filters.
func (q Query) HasContentCriteria() bool {
	return len(clean(q.Keywords)) > 0 || len(clean(q.Phrases)) > 0
}

// keyword is a normalized keyword: present in a text when every token is.
// A keyword made only of separators, such as "++", has no tokens and is
// matched as a case-insensitive literal instead.
type keyword struct {
	raw     string
	tokens  []string
	literal bool
}

func newKeyword(k string) keyword {
	kw := keyword{raw: strings.ToLower(k), tokens: Tokenize(k)}
	kw.literal = len(kw.tokens) == 0
	return kw
}

// compiled is a query prepared for scanning.
type compiled struct {
	Query

	keywords []keyword
	excludes []keyword
	phrases  []string
	title    string

	// terms are the distinct tokens and literals scored by BM25.
	terms []string
	// tracked are all tokens whose presence matters, including exclusions.
	tracked map[string]struct{}
	// literals is set when any keyword or exclusion is a literal.
	literals bool
}

func compile(q Query) *compiled {
	c := &compiled{
		Query:   q,
		title:   strings.ToLower(strings.TrimSpace(q.TitleFilter)),
		tracked: make(map[string]struct{}),
	}
	if c.MatchMode == "" {
		c.MatchMode = MatchAny
	}

	scored := make(map[string]struct{})
	addTerms := func(tokens []string) {
		for _, t := range tokens {
			c.tracked[t] = struct{}{}
			if _, ok := scored[t]; !ok {
				scored[t] = struct{}{}
				c.terms = append(c.terms, t)
			}
		}
	}

	for _, k := range clean(q.Keywords) {
		kw := newKeyword(k)
		c.keywords = append(c.keywords, kw)
		if kw.literal {
			addTerms([]string{kw.raw})
			c.literals = true
			continue
		}
		addTerms(kw.tokens)
	}
	for _, p := range clean(q.Phrases) {
		c.phrases = append(c.phrases, strings.ToLower(p))
		addTerms(Tokenize(p))
	}
	for _, k := range clean(q.ExcludeKeywords) {
		kw := newKeyword(k)
		c.excludes = append(c.excludes, kw)
		if kw.literal {
			c.literals = true
		}
		for _, t := range kw.tokens {
			c.tracked[t] = struct{}{}
		}
	}
	return c
}

// passesMetadata applies the title and date filters.
func (c *compiled) passesMetadata(conv *model.Conversation) bool {
	if c.title != "" && !strings.Contains(strings.ToLower(conv.Title), c.title) {
		return false
	}
	if !c.From.IsZero() && conv.CreatedAt.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && conv.CreatedAt.After(c.To) {
		return false
	}
	return true
}

// scans reports whether a message is inside the role filter.
func (c *compiled) scans(m model.Message) bool {
	return c.Role == "" || m.Role == c.Role
}

func clean(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
