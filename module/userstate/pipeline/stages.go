package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
)

// blacklistGate 黑名单门控。到期自动恢复，管理员豁免。
func (p *Pipeline) blacklistGate(ctx context.Context, key model.Key, in Input, cfg Config, now time.Time, res *Result) (bool, error) {
	if !cfg.EnableBlacklist || in.IsAdmin {
		return false, nil
	}
	doc, routed, err := p.docFor(ctx, key, model.TypeBlacklist, cfg, now)
	if err != nil {
		return false, err
	}
	bs := doc.BlockStats
	if bs.BlockStatus {
		return false, nil
	}

	// 警告期与拉黑期的恢复时长不同
	lifespan := cfg.WarnLifespan
	if bs.BlockCount > cfg.WarnCount {
		lifespan = cfg.BlockLifespan
	}
	remain, ok := remainSeconds(bs.LastOperateTime, lifespan, now)
	if !ok || remain == 0 {
		_, err := p.Store.UpdateKey(ctx, routed, map[string]interface{}{
			"block_stats.block_status": true,
		})
		return false, err
	}

	res.BlockStatus = "block"
	res.StopReason = StopBlock
	res.StopMessage = blockMessage(remain)
	return true, nil
}

// usageGate 用量门控。limit<=0 不限量，管理员不计数。
func (p *Pipeline) usageGate(ctx context.Context, key model.Key, in Input, cfg Config, now time.Time, res *Result) (bool, error) {
	today := model.FormatDate(now)
	doc, routed, err := p.docFor(ctx, key, model.TypeUsage, cfg, now)
	if err != nil {
		return false, err
	}

	if !cfg.EnableUsageLimit || in.IsAdmin {
		res.CurrentUsage = doc.DailyUsage(today)
		return false, nil
	}

	count, allowed, err := p.Store.IncrementUsage(ctx, routed, today, cfg.UsageLimit)
	if err != nil {
		return false, err
	}
	res.CurrentUsage = count
	if !allowed {
		res.StopReason = StopOverusage
		res.StopMessage = pickMessage(cfg.Bot.OverusageOutput, "今日用量已达上限")
		return true, nil
	}
	return false, nil
}

// favorStage 读取好感度并生成对应提示词，不拦截。
func (p *Pipeline) favorStage(ctx context.Context, key model.Key, cfg Config, res *Result) error {
	doc, _, err := p.docFor(ctx, key, model.TypeFavor, cfg, p.Now())
	if err != nil {
		return err
	}
	res.FavorValue = doc.FavorValue
	if cfg.EnableFavor && cfg.Bot != nil {
		res.FavorPrompt = cfg.Bot.FavorPrompt(doc.FavorValue)
	}
	return nil
}

// personaStage 追加画像文本，不拦截。
func (p *Pipeline) personaStage(ctx context.Context, key model.Key, cfg Config, res *Result) error {
	if !cfg.EnablePersona {
		return nil
	}
	doc, _, err := p.docFor(ctx, key, model.TypePersona, cfg, p.Now())
	if err != nil {
		return err
	}
	res.PersonaText = doc.PersonaAttributes.Describe()
	return nil
}

// contextStage 取最近的群内历史作为上下文，不拦截。
func (p *Pipeline) contextStage(doc *model.Document, cfg Config, res *Result) {
	if !cfg.EnableContext || cfg.ContextPoolSize <= 0 {
		return
	}
	entries := doc.HistoryEntries
	if len(entries) > cfg.ContextPoolSize {
		entries = entries[len(entries)-cfg.ContextPoolSize:]
	}
	if len(entries) == 0 {
		return
	}
	lines := make([]string, 0, len(entries)*2)
	for _, h := range entries {
		lines = append(lines, h.UserName+": "+h.UserQuery)
		lines = append(lines, "Roza: "+h.Response)
	}
	res.ContextText = strings.Join(lines, "\n")
	res.ContextCount = len(entries)
}

// memoryStage 检索相关长期记忆并累加命中次数，终态 finish 由 Run 统一落。
func (p *Pipeline) memoryStage(ctx context.Context, key model.Key, doc *model.Document, in Input, cfg Config, res *Result) error {
	if !cfg.EnableMemory || len(doc.LongTermMemory) == 0 {
		return nil
	}
	hits, updated := RetrieveMemories(in.UserQuery, doc.LongTermMemory, cfg.MemoryRetrievalNumber)
	if len(hits) == 0 {
		return nil
	}
	res.HitMemories = hits
	_, err := p.Store.UpdateKey(ctx, key, map[string]interface{}{
		"long_term_memory": updated,
	})
	return err
}
