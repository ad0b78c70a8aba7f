package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/store"
)

// 会话流水线：黑名单 → 输入长度 → 用量 → 好感度 → 画像 →
// 上下文 → 记忆，前三级可拦截，后四级只累积提示词。

const (
	StopFinish    = "finish"
	StopBlock     = "block"
	StopOverInput = "input_exceeds_max_length"
	StopOverusage = "overusage"
)

// Input 单轮会话的入参。InputLength 为 0 时按 UserQuery 字符数计。
type Input struct {
	BotID      string `json:"bot_id"`
	GroupID    string `json:"group_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	UserQuery  string `json:"user_query"`
	MainPrompt string `json:"main_prompt"`
	IsAdmin    bool   `json:"is_admin"`

	InputLength int `json:"input_length"`
}

// Config 流水线的运行参数，由机器人配置与群配置拼装。
type Config struct {
	EnableBlacklist  bool
	EnableInputLimit bool
	EnableUsageLimit bool
	EnableFavor      bool
	EnablePersona    bool
	EnableContext    bool
	EnableMemory     bool

	UsageLimit            int
	MaxInputSize          int
	ContextPoolSize       int
	MemoryRetrievalNumber int

	WarnCount     int
	WarnLifespan  int // 秒
	BlockLifespan int // 秒

	Cross policy.CrossGroup
	Bot   *model.BotConfig
}

// ConfigFrom 从配置文档拼装流水线参数。
func ConfigFrom(bc *model.BotConfig, gc *model.GroupConfig) Config {
	return Config{
		EnableBlacklist:       gc.EnableBlacklist,
		EnableInputLimit:      gc.EnableInputLimit,
		EnableUsageLimit:      gc.EnableUsageLimit,
		EnableFavor:           gc.EnableFavor,
		EnablePersona:         gc.EnablePersona,
		EnableContext:         gc.EnableContext,
		EnableMemory:          gc.EnableMemory,
		UsageLimit:            gc.UsageLimit,
		MaxInputSize:          gc.MaxInputSize,
		ContextPoolSize:       gc.ContextPoolSize,
		MemoryRetrievalNumber: gc.MemoryRetrievalNumber,
		WarnCount:             gc.WarnCount,
		WarnLifespan:          gc.WarnLifespan,
		BlockLifespan:         gc.BlockLifespan,
		Cross:                 policy.FromGroupConfig(gc),
		Bot:                   bc,
	}
}

// Result 单轮流水线的输出记录，所有字段始终填充。
type Result struct {
	StopReason  string `json:"stop_reason"`
	StopMessage string `json:"stop_message"`

	BotID      string `json:"bot_id"`
	GroupID    string `json:"group_id"`
	UserID     string `json:"user_id"`
	UserQuery  string `json:"user_query"`
	MainPrompt string `json:"main_prompt"`

	BlockStatus    string `json:"block_status"` // pass | block
	InputLength    int    `json:"input_length"`
	MaxInputLength int    `json:"max_input_length"`
	CurrentUsage   int    `json:"current_usage"`
	UsageLimit     int    `json:"usage_limit"`
	UsageDate      string `json:"usage_date"`

	FavorValue   int                 `json:"favor_value"`
	FavorPrompt  string              `json:"favor_prompt"`
	PersonaText  string              `json:"persona_text"`
	ContextText  string              `json:"context_text"`
	ContextCount int                 `json:"context_count"`
	HitMemories  []model.MemoryEntry `json:"hit_memories"`
}

// Pipeline 负责一轮会话的门控与提示词装配。
type Pipeline struct {
	Store store.Store
	Now   func() time.Time
}

func New(s store.Store) *Pipeline {
	return &Pipeline{Store: s, Now: time.Now}
}

// Run 按固定顺序执行各阶段，任一门控拦截即终止，
// 返回记录的全部字段无论在哪一级终止都有值。
func (p *Pipeline) Run(ctx context.Context, in Input, cfg Config) (*Result, error) {
	now := p.Now()
	if in.InputLength == 0 {
		in.InputLength = len([]rune(in.UserQuery))
	}
	if cfg.Bot == nil {
		cfg.Bot = &model.BotConfig{BotID: in.BotID}
	}

	res := &Result{
		BotID:          in.BotID,
		GroupID:        in.GroupID,
		UserID:         in.UserID,
		UserQuery:      in.UserQuery,
		MainPrompt:     in.MainPrompt,
		BlockStatus:    "pass",
		InputLength:    in.InputLength,
		MaxInputLength: cfg.MaxInputSize,
		UsageLimit:     cfg.UsageLimit,
		UsageDate:      model.FormatDate(now),
		HitMemories:    []model.MemoryEntry{},
	}

	key := model.Key{BotID: in.BotID, GroupID: in.GroupID, UserID: in.UserID}
	doc, err := store.EnsureDocument(ctx, p.Store, key, cfg.Cross, now)
	if err != nil {
		return res, err
	}

	// 1. 黑名单门控
	if halted, err := p.blacklistGate(ctx, key, in, cfg, now, res); err != nil {
		return res, err
	} else if halted {
		return res, nil
	}

	// 2. 输入长度门控
	if cfg.EnableInputLimit && cfg.MaxInputSize > 0 && in.InputLength > cfg.MaxInputSize {
		res.StopReason = StopOverInput
		res.StopMessage = pickMessage(cfg.Bot.OverinputOutput, "输入内容过长，精简一下再说吧")
		return res, nil
	}

	// 3. 用量门控
	if halted, err := p.usageGate(ctx, key, in, cfg, now, res); err != nil {
		return res, err
	} else if halted {
		return res, nil
	}

	// 4. 好感度
	if err := p.favorStage(ctx, key, cfg, res); err != nil {
		return res, err
	}

	// 5. 画像
	if err := p.personaStage(ctx, key, cfg, res); err != nil {
		return res, err
	}

	// 6. 上下文
	p.contextStage(doc, cfg, res)

	// 7. 记忆检索
	if err := p.memoryStage(ctx, key, doc, in, cfg, res); err != nil {
		return res, err
	}

	res.MainPrompt = assemblePrompt(in.MainPrompt, res)
	res.StopReason = StopFinish

	logger.Info("turn pipeline finished",
		zap.String("bot_id", in.BotID),
		zap.String("group_id", in.GroupID),
		zap.String("user_id", in.UserID),
		zap.String("stop_reason", res.StopReason))
	return res, nil
}

// docFor 按类型取跨群路由后的文档，模板缺失时回退默认值。
func (p *Pipeline) docFor(ctx context.Context, key model.Key, typeKey string, cfg Config, now time.Time) (*model.Document, model.Key, error) {
	routed := cfg.Cross.RouteKey(key, typeKey)
	doc, err := store.EnsureDocument(ctx, p.Store, routed, cfg.Cross, now)
	if err != nil {
		return nil, routed, err
	}
	return doc, routed, nil
}

func assemblePrompt(base string, res *Result) string {
	parts := make([]string, 0, 5)
	if base != "" {
		parts = append(parts, base)
	}
	if res.FavorPrompt != "" {
		parts = append(parts, res.FavorPrompt)
	}
	if res.PersonaText != "" {
		parts = append(parts, "用户画像："+res.PersonaText)
	}
	if res.ContextText != "" {
		parts = append(parts, "历史对话：\n"+res.ContextText)
	}
	if len(res.HitMemories) > 0 {
		lines := make([]string, 0, len(res.HitMemories))
		for _, m := range res.HitMemories {
			lines = append(lines, "- "+m.MemoryDescription)
		}
		parts = append(parts, "相关记忆：\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// pickMessage 从候选中取一条，候选为空用缺省文案。
func pickMessage(candidates []string, fallback string) string {
	if len(candidates) == 0 {
		return fallback
	}
	return candidates[time.Now().UnixNano()%int64(len(candidates))]
}

func remainSeconds(last string, lifespan int, now time.Time) (int, bool) {
	t, err := time.Parse("2006-01-02T15:04:05.000000", last)
	if err != nil {
		return 0, false
	}
	remain := lifespan - int(now.UTC().Sub(t).Seconds())
	if remain < 0 {
		remain = 0
	}
	return remain, true
}

func blockMessage(remain int) string {
	return fmt.Sprintf("不想理你，%d秒后再来吧", remain)
}
