package mediasearch

import (
	"sort"

	"media-search-api/internal/domain/entity"
)

// Match 单条检索结果
type Match struct {
	ID     string
	Score  float64
	Kind   entity.MediaKind
	Source string
}

// Rank 暴力扫描：对每条记录计算与 query 的点积（均为单位向量，即余弦相似度），
// 按分数降序稳定排序，截取前 topK，再丢弃 score <= minScore 的结果。
//
// 分数完全相同时保持 records 的顺序（即索引插入顺序）。topK<=0 表示不截断。
// 复杂度 O(n·d)，只适用于小规模索引。
func Rank(query []float32, records []*entity.MediaRecord, topK int, minScore float64) []Match {
	if len(query) == 0 || len(records) == 0 {
		return []Match{}
	}

	scored := make([]Match, 0, len(records))
	for _, rec := range records {
		if rec == nil || len(rec.Embedding) != len(query) {
			continue
		}
		scored = append(scored, Match{
			ID:     rec.ID,
			Score:  Dot(query, rec.Embedding),
			Kind:   rec.Kind,
			Source: rec.Source,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	out := make([]Match, 0, len(scored))
	for _, m := range scored {
		if m.Score > minScore {
			out = append(out, m)
		}
	}
	return out
}
