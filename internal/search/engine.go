package search

import (
	"iter"
	"sort"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/aucontraire/echomine-sub001/pkg/model"
)

// Params tunes scoring and snippet extraction.
type Params struct {
	K1            float64
	B             float64
	SnippetLength int
}

// DefaultParams returns k1=1.5, b=0.75 and 150 character snippets.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB, SnippetLength: DefaultSnippetLength}
}

// Stats describes one search pass.
type Stats struct {
	// Scanned counts conversations read from the sequence.
	Scanned int
	// Matched counts conversations that passed both stages.
	Matched int
	// PeakBuffered is the largest number of conversations held at once.
	PeakBuffered int
	// Returned counts results after the limit was applied.
	Returned int
}

// Engine ranks conversations. It holds no per-search state and is safe for
// concurrent use.
type Engine struct {
	params Params
}

// NewEngine creates an engine. Zero parameters fall back to the defaults.
func NewEngine(p Params) *Engine {
	d := DefaultParams()
	if p.K1 <= 0 {
		p.K1 = d.K1
	}
	if p.B < 0 || p.B > 1 {
		p.B = d.B
	}
	if p.SnippetLength <= 0 {
		p.SnippetLength = d.SnippetLength
	}
	return &Engine{params: p}
}

// Params returns the effective parameters.
func (e *Engine) Params() Params { return e.params }

// candidate is a conversation that passed both matching stages.
type candidate struct {
	conv    *model.Conversation
	tf      map[string]int
	length  int
	matched []string
	snippet string
}

// docScan is the per-conversation result of reading its messages once.
type docScan struct {
	tf       map[string]int
	length   int
	keywords map[int]struct{}
	excluded bool
	phrase   bool
	matched  []string
	// first is the first message that matched, used for the snippet.
	first *model.Message
}

// Rank consumes convs once and returns matching conversations ordered by
// score descending, then CreatedAt descending, then ID ascending. The first
// error yielded by convs aborts the search and is returned unchanged.
func (e *Engine) Rank(q Query, convs iter.Seq2[*model.Conversation, error]) ([]*model.SearchResult, Stats, error) {
	if err := q.Validate(); err != nil {
		return nil, Stats{}, err
	}
	c := compile(q)
	if !q.HasContentCriteria() {
		return e.filter(c, convs)
	}

	var (
		stats Stats
		stat  = newCorpus(c.terms)
		buf   []*candidate
	)
	for conv, err := range convs {
		if err != nil {
			return nil, stats, err
		}
		stats.Scanned++

		s := e.scan(c, conv)
		stat.add(s.tf, s.length)

		if !e.matches(c, s) || s.excluded || !c.passesMetadata(conv) {
			continue
		}
		buf = append(buf, &candidate{
			conv:    conv,
			tf:      s.tf,
			length:  s.length,
			matched: s.matched,
			snippet: e.snippet(c, s.first),
		})
		stats.Matched++
		stats.PeakBuffered = max(stats.PeakBuffered, len(buf))
	}

	results := make([]*model.SearchResult, 0, len(buf))
	for _, cand := range buf {
		raw := bm25(stat, c.terms, cand.tf, cand.length, e.params.K1, e.params.B)
		results = append(results, &model.SearchResult{
			Conversation:      cand.conv,
			Score:             normalize(raw),
			MatchedMessageIDs: cand.matched,
			MatchCount:        len(cand.matched),
			Snippet:           cand.snippet,
		})
	}
	sortResults(results)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	stats.Returned = len(results)
	return results, stats, nil
}

// filter handles queries without keywords or phrases. Every conversation
// passing the metadata filters scores 1.0; ordering falls to CreatedAt.
// With a limit, only the newest Limit conversations are kept in a heap.
func (e *Engine) filter(c *compiled, convs iter.Seq2[*model.Conversation, error]) ([]*model.SearchResult, Stats, error) {
	var (
		stats Stats
		heap  = binaryheap.NewWith(worstFirst)
	)
	for conv, err := range convs {
		if err != nil {
			return nil, stats, err
		}
		stats.Scanned++
		if !c.passesMetadata(conv) {
			continue
		}
		if len(c.excludes) > 0 && e.scan(c, conv).excluded {
			continue
		}
		stats.Matched++
		heap.Push(conv)
		if c.Limit > 0 && heap.Size() > c.Limit {
			heap.Pop()
		}
		stats.PeakBuffered = max(stats.PeakBuffered, heap.Size())
	}

	results := make([]*model.SearchResult, 0, heap.Size())
	for _, v := range heap.Values() {
		conv := v.(*model.Conversation)
		var snippet string
		for i := range conv.Messages {
			if c.scans(conv.Messages[i]) {
				snippet = Snippet(conv.Messages[i].Content, nil, e.params.SnippetLength)
				break
			}
		}
		if snippet == "" {
			snippet = NoContentPlaceholder
		}
		results = append(results, &model.SearchResult{
			Conversation: conv,
			Score:        1.0,
			Snippet:      snippet,
		})
	}
	sortResults(results)
	stats.Returned = len(results)
	return results, stats, nil
}

// scan reads the role-filtered messages of conv once, collecting term
// frequencies, keyword and phrase hits, and exclusion hits.
func (e *Engine) scan(c *compiled, conv *model.Conversation) *docScan {
	s := &docScan{
		tf:       make(map[string]int, len(c.tracked)),
		keywords: make(map[int]struct{}),
	}
	present := make(map[string]struct{}, len(c.tracked))

	for i := range conv.Messages {
		m := &conv.Messages[i]
		if !c.scans(*m) {
			continue
		}
		clear(present)
		eachToken(m.Content, func(tok string) {
			s.length++
			if _, ok := c.tracked[tok]; ok {
				s.tf[tok]++
				present[tok] = struct{}{}
			}
		})

		var lower string
		if c.literals || len(c.phrases) > 0 {
			lower = strings.ToLower(m.Content)
		}

		hit := false
		for k, kw := range c.keywords {
			var found bool
			if kw.literal {
				n := strings.Count(lower, kw.raw)
				s.tf[kw.raw] += n
				found = n > 0
			} else {
				found = hasAll(present, kw.tokens)
			}
			if found {
				s.keywords[k] = struct{}{}
				hit = true
			}
		}
		for _, kw := range c.excludes {
			if kw.literal && strings.Contains(lower, kw.raw) || !kw.literal && hasAll(present, kw.tokens) {
				s.excluded = true
			}
		}
		if len(c.phrases) > 0 {
			for _, p := range c.phrases {
				if strings.Contains(lower, p) {
					s.phrase = true
					hit = true
					break
				}
			}
		}
		if hit {
			s.matched = append(s.matched, m.ID)
			if s.first == nil {
				s.first = m
			}
		}
	}
	return s
}

// matches applies stage one: any phrase, or keywords under the match mode.
func (e *Engine) matches(c *compiled, s *docScan) bool {
	if s.phrase {
		return true
	}
	if len(c.keywords) == 0 {
		return false
	}
	if c.MatchMode == MatchAll {
		return len(s.keywords) == len(c.keywords)
	}
	return len(s.keywords) > 0
}

func (e *Engine) snippet(c *compiled, m *model.Message) string {
	if m == nil {
		return NoContentPlaceholder
	}
	needles := make([]string, 0, len(c.phrases)+len(c.keywords))
	needles = append(needles, c.phrases...)
	for _, kw := range c.keywords {
		if kw.literal {
			needles = append(needles, kw.raw)
			continue
		}
		needles = append(needles, kw.tokens...)
	}
	return Snippet(m.Content, needles, e.params.SnippetLength)
}

func hasAll(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// worstFirst orders conversations so the heap root is the one to evict:
// the oldest, and among equals the largest ID.
func worstFirst(a, b interface{}) int {
	ca, cb := a.(*model.Conversation), b.(*model.Conversation)
	switch {
	case ca.CreatedAt.Before(cb.CreatedAt):
		return -1
	case ca.CreatedAt.After(cb.CreatedAt):
		return 1
	}
	return -strings.Compare(ca.ID, cb.ID)
}

func sortResults(results []*model.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Conversation.CreatedAt.Equal(b.Conversation.CreatedAt) {
			return a.Conversation.CreatedAt.After(b.Conversation.CreatedAt)
		}
		return a.Conversation.ID < b.Conversation.ID
	})
}
