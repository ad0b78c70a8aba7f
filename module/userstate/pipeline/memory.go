package pipeline

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
)

// 长期记忆检索：词频向量余弦相似度，零依赖的轻量实现。
// 中文按单字切分，英文数字按词切分。

func tokenize(text string) map[string]float64 {
	tf := make(map[string]float64)
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tf[strings.ToLower(word.String())]++
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tf[string(r)]++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tf
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	for k, v := range a {
		na += v * v
		if w, ok := b[k]; ok {
			dot += v * w
		}
	}
	for _, v := range b {
		nb += v * v
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RetrieveMemories 取与 query 相似度最高的至多 topK 条记忆，
// 相似度为 0 的不命中。第二个返回值是命中计数累加后的完整
// 记忆列表，用于回写。
func RetrieveMemories(query string, memories []model.MemoryEntry, topK int) ([]model.MemoryEntry, []model.MemoryEntry) {
	if topK <= 0 {
		topK = 3
	}
	qv := tokenize(query)

	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for i, m := range memories {
		mv := tokenize(m.UserInput + " " + m.MemoryDescription)
		if s := cosine(qv, mv); s > 0 {
			candidates = append(candidates, scored{idx: i, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	updated := append([]model.MemoryEntry(nil), memories...)
	hits := make([]model.MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		updated[c.idx].HitCount++
		hits = append(hits, updated[c.idx])
	}
	return hits, updated
}
