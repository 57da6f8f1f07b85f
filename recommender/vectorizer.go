package recommender

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyVocabulary is returned when no term survives document-frequency pruning.
var ErrEmptyVocabulary = errors.New("empty vocabulary after pruning")

// stopWords is the English stop list applied to stemmed tokens.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "about", "abov", "above", "after", "again", "against", "all", "also", "am", "an", "and", "ani", "any",
		"are", "as", "at", "be", "becaus", "because", "been", "befor", "before", "being", "below", "between",
		"both", "but", "by", "can", "could", "did", "do", "doe", "does", "do", "down", "dure", "during", "each",
		"few", "for", "from", "further", "had", "has", "have", "having", "he", "her", "here", "herself",
		"him", "himself", "his", "how", "i", "if", "in", "into", "is", "it", "its", "itself", "just",
		"me", "more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off", "on", "onc", "once",
		"onli", "only", "or", "other", "our", "ourselv", "out", "over", "own", "same", "she", "should",
		"so", "some", "such", "than", "that", "the", "their", "them", "themselv", "then", "there", "these",
		"they", "this", "those", "through", "to", "too", "under", "until", "up", "veri", "very", "was",
		"we", "were", "what", "when", "where", "which", "while", "who", "whom", "whi", "why", "will",
		"with", "would", "you", "your", "yourself", "yourselv",
	} {
		stopWords[w] = struct{}{}
	}
}

// sparseVec maps a vocabulary column to its weight.
type sparseVec map[int]float64

func (v sparseVec) dot(o sparseVec) float64 {
	if len(o) < len(v) {
		v, o = o, v
	}
	var sum float64
	for k, w := range v {
		sum += w * o[k]
	}
	return sum
}

func (v sparseVec) normalize() {
	var sq float64
	for _, w := range v {
		sq += w * w
	}
	if sq == 0 {
		return
	}
	n := math.Sqrt(sq)
	for k := range v {
		v[k] /= n
	}
}

// vectorSpace is a fitted tf-idf model. It is never mutated after fit.
type vectorSpace struct {
	vocab map[string]int
	idf   []float64
	rows  []sparseVec
}

// terms turns stems into unigram and bigram terms, dropping stop words and
// single-character tokens first.
func terms(stems []string) []string {
	kept := make([]string, 0, len(stems))
	for _, s := range stems {
		if len([]rune(s)) < 2 {
			continue
		}
		if _, stop := stopWords[s]; stop {
			continue
		}
		kept = append(kept, s)
	}

	out := make([]string, 0, 2*len(kept))
	out = append(out, kept...)
	for i := 0; i+1 < len(kept); i++ {
		out = append(out, kept[i]+" "+kept[i+1])
	}
	return out
}

// fit builds the vector space over docs, each given as its stem list.
func fit(docs [][]string, maxDocFreq float64) (*vectorSpace, error) {
	n := len(docs)
	if n == 0 {
		return nil, ErrEmptyVocabulary
	}

	docTerms := make([][]string, n)
	df := make(map[string]int)
	for i, d := range docs {
		docTerms[i] = terms(d)
		seen := make(map[string]bool, len(docTerms[i]))
		for _, t := range docTerms[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	limit := maxDocFreq * float64(n)
	kept := make([]string, 0, len(df))
	for t, c := range df {
		if float64(c) > limit {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyVocabulary
	}
	sort.Strings(kept)

	vs := &vectorSpace{
		vocab: make(map[string]int, len(kept)),
		idf:   make([]float64, len(kept)),
		rows:  make([]sparseVec, n),
	}
	for i, t := range kept {
		vs.vocab[t] = i
		vs.idf[i] = math.Log(float64(1+n)/float64(1+df[t])) + 1
	}
	for i, ts := range docTerms {
		vs.rows[i] = vs.weigh(ts)
	}
	return vs, nil
}

// weigh projects a term list into the space. Out-of-vocabulary terms are ignored.
func (vs *vectorSpace) weigh(ts []string) sparseVec {
	v := make(sparseVec)
	for _, t := range ts {
		if col, ok := vs.vocab[t]; ok {
			v[col]++
		}
	}
	for col := range v {
		v[col] *= vs.idf[col]
	}
	v.normalize()
	return v
}

// similarities returns the cosine similarity of query against every row.
func (vs *vectorSpace) similarities(stems []string) []float64 {
	q := vs.weigh(terms(stems))
	out := make([]float64, len(vs.rows))
	for i, row := range vs.rows {
		out[i] = q.dot(row)
	}
	return out
}
