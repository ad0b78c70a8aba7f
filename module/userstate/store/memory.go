package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
)

// MemoryStore 纯内存实现，测试用。与 Mongo 实现共用
// model 的路径表，更新语义保持一致。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[model.Key]*model.Document

	// Now 可注入，测试固定时间用
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[model.Key]*model.Document),
		Now:  time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key model.Key) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

func (m *MemoryStore) Insert(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := doc.Key()
	if _, ok := m.docs[k]; ok {
		return errors.Errorf("duplicate key %s:%s:%s", k.BotID, k.GroupID, k.UserID)
	}
	m.docs[k] = doc.Clone()
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, p policy.Pattern) ([]*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Document
	for k, d := range m.docs {
		if p.Match(k) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BotID != b.BotID {
			return a.BotID < b.BotID
		}
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		return a.UserID < b.UserID
	})
	return out, nil
}

func (m *MemoryStore) UpdateKey(ctx context.Context, key model.Key, set map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok {
		return false, nil
	}
	return m.applyLocked(d, set)
}

func (m *MemoryStore) UpdateMany(ctx context.Context, p policy.Pattern, set map[string]interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k, d := range m.docs {
		if !p.Match(k) {
			continue
		}
		changed, err := m.applyLocked(d, set)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, key model.Key, version int64, set map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok || d.Version != version {
		return false, nil
	}
	if _, err := m.applyLocked(d, set); err != nil {
		return false, err
	}
	return true, nil
}

// applyLocked 应用更新集合并在有实际变化时刷新系统字段。
func (m *MemoryStore) applyLocked(d *model.Document, set map[string]interface{}) (bool, error) {
	changed := false
	for path, v := range set {
		c, err := model.ApplyPath(d, path, v)
		if err != nil {
			return changed, err
		}
		if c {
			changed = true
		}
	}
	if changed {
		d.UpdatedAt = model.FormatTime(m.Now())
		d.Version++
	}
	return changed, nil
}

func (m *MemoryStore) IncrementUsage(ctx context.Context, key model.Key, date string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok {
		return 0, false, errors.Errorf("document not found %s:%s:%s", key.BotID, key.GroupID, key.UserID)
	}
	if d.UsageDate != date {
		d.UsageDate = date
		d.DailyUsageCount = 0
	}
	if limit > 0 && d.DailyUsageCount >= limit {
		return d.DailyUsageCount, false, nil
	}
	d.DailyUsageCount++
	d.UpdatedAt = model.FormatTime(m.Now())
	d.Version++
	return d.DailyUsageCount, true, nil
}

func (m *MemoryStore) AppendHistory(ctx context.Context, key model.Key, entry model.HistoryEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok {
		return 0, errors.Errorf("document not found %s:%s:%s", key.BotID, key.GroupID, key.UserID)
	}
	d.HistoryEntries = append(d.HistoryEntries, entry)
	d.HistoryStats.TotalHistories++
	d.UpdatedAt = model.FormatTime(m.Now())
	d.Version++
	return d.HistoryStats.TotalHistories, nil
}

func (m *MemoryStore) TrimHistory(ctx context.Context, key model.Key, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[key]
	if !ok {
		return 0, nil
	}
	if n <= 0 || len(d.HistoryEntries) == 0 {
		return 0, nil
	}
	removed := n
	if removed > len(d.HistoryEntries) {
		removed = len(d.HistoryEntries)
	}
	keep := len(d.HistoryEntries) - removed
	d.HistoryEntries = append([]model.HistoryEntry(nil), d.HistoryEntries[:keep]...)
	d.HistoryStats.TotalHistories -= removed
	if d.HistoryStats.TotalHistories < 0 {
		d.HistoryStats.TotalHistories = 0
	}
	d.UpdatedAt = model.FormatTime(m.Now())
	d.Version++
	return removed, nil
}

func (m *MemoryStore) Rank(ctx context.Context, p policy.Pattern, field string, limit int) ([]RankItem, error) {
	docs, err := m.Find(ctx, p)
	if err != nil {
		return nil, err
	}
	items := make([]RankItem, 0, len(docs))
	for _, d := range docs {
		v, _ := model.GetPath(d, field)
		items = append(items, RankItem{
			UserID:  d.UserID,
			GroupID: d.GroupID,
			Value:   model.NumericValue(v),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Value > items[j].Value })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
