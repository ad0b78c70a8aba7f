package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/store"
	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

// Recorder 一轮会话结束后的状态回写：历史、用量统计、
// 好感度变化、违规升级。
type Recorder struct {
	Store store.Store
	Now   func() time.Time
}

func NewRecorder(s store.Store) *Recorder {
	return &Recorder{Store: s, Now: time.Now}
}

// TurnUsage 单轮的 token 统计。
type TurnUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RecordTurn 追加历史记录并累加群内用量统计，返回累计历史条数。
func (r *Recorder) RecordTurn(ctx context.Context, key model.Key, userName, query, response string, usage TurnUsage) (int, error) {
	now := r.Now()
	total, err := r.Store.AppendHistory(ctx, key, model.HistoryEntry{
		UserName:  userName,
		UserQuery: query,
		Response:  response,
		CreatedAt: model.FormatTime(now),
	})
	if err != nil {
		return 0, err
	}

	err = r.casUpdate(ctx, key, func(doc *model.Document) map[string]interface{} {
		return map[string]interface{}{
			"total_usage.total_chat_count":   doc.TotalUsage.TotalChatCount + 1,
			"total_usage.total_prompt_token": doc.TotalUsage.TotalPromptToken + usage.PromptTokens,
			"total_usage.total_output_token": doc.TotalUsage.TotalOutputToken + usage.OutputTokens,
			"total_usage.total_tokens":       doc.TotalUsage.TotalTokens + usage.PromptTokens + usage.OutputTokens,
		}
	})
	return total, err
}

// JudgeFavor 从评分文本中提取数字并求均值，减去基准 4 得到
// 本轮好感度变化量。无数字返回 0。
func JudgeFavor(text string) int {
	sum, n := 0, 0
	for _, r := range text {
		if r >= '0' && r <= '9' {
			sum += int(r - '0')
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum)/float64(n))) - 4
}

// ApplyFavorDelta 按跨群路由累加好感度，delta 为 0 时跳过。
func (r *Recorder) ApplyFavorDelta(ctx context.Context, key model.Key, cross policy.CrossGroup, delta int) error {
	if delta == 0 {
		return nil
	}
	routed := cross.RouteKey(key, model.TypeFavor)
	if _, err := store.EnsureDocument(ctx, r.Store, routed, cross, r.Now()); err != nil {
		return err
	}
	return r.casUpdate(ctx, routed, func(doc *model.Document) map[string]interface{} {
		return map[string]interface{}{
			"favor_value":       doc.FavorValue + delta,
			"last_favor_change": delta,
		}
	})
}

// RegisterViolation 记一次违规：计数加一并进入封禁状态，
// 超过警告阈值后由较长的拉黑时长接管恢复。返回新的违规计数。
func (r *Recorder) RegisterViolation(ctx context.Context, key model.Key, cross policy.CrossGroup) (int, error) {
	routed := cross.RouteKey(key, model.TypeBlacklist)
	if _, err := store.EnsureDocument(ctx, r.Store, routed, cross, r.Now()); err != nil {
		return 0, err
	}
	count := 0
	err := r.casUpdate(ctx, routed, func(doc *model.Document) map[string]interface{} {
		count = doc.BlockStats.BlockCount + 1
		return map[string]interface{}{
			"block_stats.block_status":      false,
			"block_stats.block_count":       count,
			"block_stats.last_operate_time": model.FormatTime(r.Now()),
		}
	})
	return count, err
}

// casUpdate 读取后按版本条件写入，冲突时重读重试一次。
func (r *Recorder) casUpdate(ctx context.Context, key model.Key, build func(*model.Document) map[string]interface{}) error {
	for attempt := 0; attempt < 2; attempt++ {
		doc, err := r.Store.Get(ctx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return errs.ErrStoreUnavailable.WithDetail("目标文档不存在")
		}
		ok, err := r.Store.CompareAndSwap(ctx, key, doc.Version, build(doc))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return errs.ErrWriteConflict
}
