package store

import (
	"context"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
)

// RankItem 一条排行结果。
type RankItem struct {
	UserID  string  `json:"user_id"`
	GroupID string  `json:"group_id"`
	Value   float64 `json:"value"`
}

// Store 用户状态文档的存取接口。Mongo 为生产实现，
// 内存实现用于测试，两者共享 model 的字段路径语义。
type Store interface {
	// Get 读取单条文档，不存在时返回 (nil, nil)。
	Get(ctx context.Context, key model.Key) (*model.Document, error)

	// Insert 插入新文档，主键冲突返回错误。
	Insert(ctx context.Context, doc *model.Document) error

	// Find 按目标匹配查询全部命中文档。
	Find(ctx context.Context, p policy.Pattern) ([]*model.Document, error)

	// UpdateKey 对单条文档应用字段更新，返回是否发生修改。
	// 写入方不传 updated_at/version，存储统一刷新并自增。
	UpdateKey(ctx context.Context, key model.Key, set map[string]interface{}) (bool, error)

	// UpdateMany 对全部命中文档应用同一更新，返回实际修改条数
	// （值未变化的文档不计数）。
	UpdateMany(ctx context.Context, p policy.Pattern, set map[string]interface{}) (int, error)

	// CompareAndSwap 带版本条件的更新，版本不匹配返回 (false, nil)。
	CompareAndSwap(ctx context.Context, key model.Key, version int64, set map[string]interface{}) (bool, error)

	// IncrementUsage 原子自增当日用量：先做跨日重置，再在
	// count<limit 条件下自增。limit<=0 视为不限量。
	// 返回自增后的计数与是否放行；拦截时返回当前计数。
	IncrementUsage(ctx context.Context, key model.Key, date string, limit int) (int, bool, error)

	// AppendHistory 追加一条历史并自增累计条数，返回累计值。
	AppendHistory(ctx context.Context, key model.Key, entry model.HistoryEntry) (int, error)

	// TrimHistory 删除最近的 n 条历史（保留较早部分），
	// total_histories 同步扣减但不为负，返回实际删除条数。
	TrimHistory(ctx context.Context, key model.Key, n int) (int, error)

	// Rank 按字段对命中文档降序排行，limit 限制返回条数。
	Rank(ctx context.Context, p policy.Pattern, field string, limit int) ([]RankItem, error)
}

// EnsureDocument 懒创建：目标文档不存在时按模板继承规则创建。
//
// 任一跨群开关启用时：
//   - 模板文档（group_id=9999）不存在而该 bot/user 在其他群已有文档，
//     先以其中一条为蓝本合成模板；
//   - 模板存在时，新群文档的跨群字段从模板拷贝，其余字段取默认值。
//
// 全部开关关闭时直接按默认值创建。返回目标文档。
func EnsureDocument(ctx context.Context, s Store, key model.Key, cg policy.CrossGroup, now time.Time) (*model.Document, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}

	fresh := model.NewDocument(key, now)

	anyCross := cg.Favor || cg.Persona || cg.Blacklist || cg.UsageLimit
	if anyCross && !key.IsTemplate() {
		tpl, err := s.Get(ctx, key.TemplateKey())
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			tpl, err = synthesizeTemplate(ctx, s, key, now)
			if err != nil {
				return nil, err
			}
		}
		if tpl != nil {
			inheritCrossFields(fresh, tpl, cg)
		}
	}

	if err := s.Insert(ctx, fresh); err != nil {
		// 并发创建时回读胜者
		if cur, gerr := s.Get(ctx, key); gerr == nil && cur != nil {
			return cur, nil
		}
		return nil, err
	}
	return fresh, nil
}

// synthesizeTemplate 该 bot/user 无模板时，取任一已有群文档为蓝本
// 创建模板。没有任何已有文档时返回 (nil, nil)。
func synthesizeTemplate(ctx context.Context, s Store, key model.Key, now time.Time) (*model.Document, error) {
	p := policy.Pattern{
		Bot:   policy.Segment{Kind: policy.SegExact, Value: key.BotID},
		Group: policy.Segment{Kind: policy.SegAny},
		User:  policy.Segment{Kind: policy.SegExact, Value: key.UserID},
	}
	docs, err := s.Find(ctx, p)
	if err != nil {
		return nil, err
	}
	var base *model.Document
	for _, d := range docs {
		if d.GroupID == model.TemplateGroupID {
			return d, nil
		}
		if base == nil {
			base = d
		}
	}
	if base == nil {
		return nil, nil
	}

	tpl := base.Clone()
	tpl.GroupID = model.TemplateGroupID
	ts := model.FormatTime(now)
	tpl.CreatedAt = ts
	tpl.UpdatedAt = ts
	tpl.Version = 0
	// 模板只承载跨群字段，会话类数据不随模板扩散
	tpl.LongTermMemory = []model.MemoryEntry{}
	tpl.HistoryEntries = []model.HistoryEntry{}
	tpl.HistoryStats = model.HistoryStats{}
	tpl.TotalUsage = model.TotalUsage{}

	if err := s.Insert(ctx, tpl); err != nil {
		if cur, gerr := s.Get(ctx, key.TemplateKey()); gerr == nil && cur != nil {
			return cur, nil
		}
		return nil, err
	}
	return tpl, nil
}

// inheritCrossFields 将启用了跨群的字段从模板拷贝到新文档。
func inheritCrossFields(dst, tpl *model.Document, cg policy.CrossGroup) {
	if cg.Favor {
		dst.FavorValue = tpl.FavorValue
		dst.LastFavorChange = tpl.LastFavorChange
	}
	if cg.Persona {
		dst.PersonaAttributes = tpl.PersonaAttributes
	}
	if cg.Blacklist {
		dst.BlockStats = tpl.BlockStats
	}
	if cg.UsageLimit {
		dst.DailyUsageCount = tpl.DailyUsageCount
		dst.UsageDate = tpl.UsageDate
	}
}
