package mediasearch

import (
	"fmt"
	"strings"
	"sync"

	"media-search-api/internal/domain/entity"
)

// Index 进程内的媒体向量索引：media id → 归一化向量。
//
// 写锁只覆盖 map/slice 的修改，Embedder 调用永远不在锁内进行。
// 记录写入后不可变，覆盖写替换整个 *MediaRecord，
// 因此 All 复制指针后释放读锁即可保证 id 与向量不会撕裂。
type Index struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]*entity.MediaRecord
	order     []string // 首次插入顺序，覆盖写不改变位置
}

// NewIndex 创建索引；dimension<=0 时以第一条写入的维度为准
func NewIndex(dimension int) *Index {
	if dimension < 0 {
		dimension = 0
	}
	return &Index{
		dimension: dimension,
		records:   make(map[string]*entity.MediaRecord),
	}
}

// Put 插入或覆盖一条记录（后写覆盖先写）
func (idx *Index) Put(rec entity.MediaRecord) error {
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return ErrInvalidMediaID
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding for %s", ErrDegenerateVector, rec.ID)
	}

	emb := make([]float32, len(rec.Embedding))
	copy(emb, rec.Embedding)
	rec.Embedding = emb
	stored := &rec

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dimension == 0 {
		idx.dimension = len(emb)
	} else if len(emb) != idx.dimension {
		return fmt.Errorf("%w: %s has %d dims, index has %d", ErrDimensionMismatch, rec.ID, len(emb), idx.dimension)
	}

	if _, exists := idx.records[rec.ID]; !exists {
		idx.order = append(idx.order, rec.ID)
	}
	idx.records[rec.ID] = stored
	return nil
}

// All 返回按插入顺序排列的记录快照
func (idx *Index) All() []*entity.MediaRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*entity.MediaRecord, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.records[id])
	}
	return out
}

// Get 按 id 读取记录
func (idx *Index) Get(id string) (*entity.MediaRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.records[strings.TrimSpace(id)]
	return rec, ok
}

// Delete 删除记录；已被 All 取走的快照不受影响
func (idx *Index) Delete(id string) bool {
	id = strings.TrimSpace(id)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.records[id]; !ok {
		return false
	}
	delete(idx.records, id)

	// 重建 order，不原地修改，避免与旧快照共享底层数组
	order := make([]string, 0, len(idx.order)-1)
	for _, existing := range idx.order {
		if existing != id {
			order = append(order, existing)
		}
	}
	idx.order = order
	return true
}

// Len 记录数
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// Dimension 索引维度，尚未确定时为 0
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}
