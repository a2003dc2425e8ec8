package retrieval

import (
	"math"
	"strings"
)

// bm25Index 在一组文档块上计算 BM25 词法相关度。
// 只依赖词频统计，不依赖向量。
type bm25Index struct {
	k1        float64
	b         float64
	chunks    []Chunk
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int
}

func newBM25Index(chunks []Chunk, k1, b float64) *bm25Index {
	if k1 <= 0 {
		k1 = 1.5
	}
	if b <= 0 {
		b = 0.75
	}
	idx := &bm25Index{
		k1:        k1,
		b:         b,
		chunks:    chunks,
		termFreqs: make([]map[string]int, len(chunks)),
		docLens:   make([]int, len(chunks)),
		docFreq:   make(map[string]int),
	}

	total := 0
	for i, c := range chunks {
		terms := tokenizeTerms(c.Content)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(terms)
		total += len(terms)
		for t := range tf {
			idx.docFreq[t]++
		}
	}
	if len(chunks) > 0 {
		idx.avgDocLen = float64(total) / float64(len(chunks))
	}
	return idx
}

// score 计算查询词集对第 i 个块的 BM25 分。
func (idx *bm25Index) score(i int, queryTerms []string) float64 {
	if idx.avgDocLen == 0 {
		return 0
	}
	n := float64(len(idx.chunks))
	docLen := float64(idx.docLens[i])

	var total float64
	for _, term := range queryTerms {
		tf := float64(idx.termFreqs[i][term])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := tf * (idx.k1 + 1) / (tf + idx.k1*(1-idx.b+idx.b*docLen/idx.avgDocLen))
		total += idf * norm
	}
	return total
}

// tokenizeTerms 小写分词并去掉标点。
func tokenizeTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}
