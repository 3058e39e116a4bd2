package search

import "math"

// Default BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// corpus accumulates the statistics BM25 needs while the archive streams:
// document count, total length and per-term document frequency. Its size is
// bounded by the number of query terms.
type corpus struct {
	docs     int
	totalLen int
	df       map[string]int
}

func newCorpus(terms []string) *corpus {
	c := &corpus{df: make(map[string]int, len(terms))}
	for _, t := range terms {
		c.df[t] = 0
	}
	return c
}

func (c *corpus) add(tf map[string]int, length int) {
	c.docs++
	c.totalLen += length
	for t, n := range tf {
		if _, scored := c.df[t]; scored && n > 0 {
			c.df[t]++
		}
	}
}

func (c *corpus) avgLen() float64 {
	if c.docs == 0 || c.totalLen == 0 {
		return 1
	}
	return float64(c.totalLen) / float64(c.docs)
}

// idf uses the non-negative variant ln(1 + (N-df+0.5)/(df+0.5)).
func (c *corpus) idf(term string) float64 {
	n := float64(c.docs)
	df := float64(c.df[term])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// bm25 scores one document given its term frequencies and length.
func bm25(c *corpus, terms []string, tf map[string]int, length int, k1, b float64) float64 {
	avg := c.avgLen()
	var score float64
	for _, t := range terms {
		f := float64(tf[t])
		if f == 0 {
			continue
		}
		norm := k1 * (1 - b + b*float64(length)/avg)
		score += c.idf(t) * f * (k1 + 1) / (f + norm)
	}
	return score
}

// normalize squashes a raw score into [0, 1).
func normalize(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}
