package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/store"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func newPipeline() (*Pipeline, *store.MemoryStore) {
	s := store.NewMemoryStore()
	s.Now = func() time.Time { return testNow }
	p := New(s)
	p.Now = func() time.Time { return testNow }
	return p, s
}

func baseConfig() Config {
	return Config{
		EnableBlacklist:       true,
		EnableInputLimit:      true,
		EnableUsageLimit:      true,
		EnableFavor:           true,
		EnablePersona:         true,
		EnableContext:         true,
		EnableMemory:          true,
		UsageLimit:            10,
		MaxInputSize:          100,
		ContextPoolSize:       5,
		MemoryRetrievalNumber: 3,
		WarnCount:             3,
		WarnLifespan:          600,
		BlockLifespan:         86400,
		Bot:                   &model.BotConfig{BotID: "bot1"},
	}
}

func baseInput() Input {
	return Input{
		BotID:     "bot1",
		GroupID:   "g1",
		UserID:    "u1",
		UserName:  "小明",
		UserQuery: "今天天气怎么样",
	}
}

func TestRunFinish(t *testing.T) {
	p, _ := newPipeline()
	res, err := p.Run(context.Background(), baseInput(), baseConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopFinish {
		t.Fatalf("stop_reason = %q", res.StopReason)
	}
	if res.BlockStatus != "pass" {
		t.Fatalf("block_status = %q", res.BlockStatus)
	}
	if res.UsageDate != "20250901" {
		t.Fatalf("usage_date = %q", res.UsageDate)
	}
	if res.CurrentUsage != 1 {
		t.Fatalf("首轮用量应为1: %d", res.CurrentUsage)
	}
	if res.HitMemories == nil {
		t.Fatalf("hit_memories 必须始终非 nil")
	}
}

// 拉黑用户在恢复期内被拦截，下游字段保持默认值
func TestBlacklistGateBlocks(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.BlockStats = model.BlockStats{
		BlockStatus:     false,
		BlockCount:      1,
		LastOperateTime: model.FormatTime(testNow.Add(-100 * time.Second)),
	}
	doc.FavorValue = 50
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(ctx, baseInput(), baseConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopBlock || res.BlockStatus != "block" {
		t.Fatalf("应被黑名单拦截: %+v", res)
	}
	if !strings.Contains(res.StopMessage, "秒后再来吧") {
		t.Fatalf("stop_message: %q", res.StopMessage)
	}
	// 未到达的阶段保持默认值
	if res.FavorPrompt != "" || res.PersonaText != "" || res.ContextText != "" || len(res.HitMemories) != 0 {
		t.Fatalf("下游字段应为默认值: %+v", res)
	}
}

// 恢复期已过则自动解封并继续
func TestBlacklistAutoRecover(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.BlockStats = model.BlockStats{
		BlockStatus:     false,
		BlockCount:      1,
		LastOperateTime: model.FormatTime(testNow.Add(-700 * time.Second)), // 超过 warn_lifespan
	}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(ctx, baseInput(), baseConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopFinish {
		t.Fatalf("应自动解封: %q %q", res.StopReason, res.StopMessage)
	}
	got, _ := s.Get(ctx, key)
	if !got.BlockStats.BlockStatus {
		t.Fatalf("block_status 应恢复为 pass")
	}
}

func TestAdminSkipsGates(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.BlockStats.BlockStatus = false
	doc.BlockStats.LastOperateTime = model.FormatTime(testNow)
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	in := baseInput()
	in.IsAdmin = true
	res, err := p.Run(ctx, in, baseConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopFinish {
		t.Fatalf("管理员应豁免黑名单: %q", res.StopReason)
	}
	if res.CurrentUsage != 0 {
		t.Fatalf("管理员不应计入用量: %d", res.CurrentUsage)
	}
}

func TestLengthGate(t *testing.T) {
	p, _ := newPipeline()
	cfg := baseConfig()
	cfg.MaxInputSize = 5
	in := baseInput()
	in.UserQuery = "这句话明显超过五个字了"

	res, err := p.Run(context.Background(), in, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopOverInput {
		t.Fatalf("stop_reason = %q", res.StopReason)
	}
	if res.MaxInputLength != 5 || res.InputLength != len([]rune(in.UserQuery)) {
		t.Fatalf("长度字段: %d/%d", res.InputLength, res.MaxInputLength)
	}
}

// 用量为 U-1 放行，为 U 拦截
func TestUsageGateBoundary(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	cfg := baseConfig()
	cfg.UsageLimit = 2

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.DailyUsageCount = 1 // U-1
	doc.UsageDate = "20250901"
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, _ := p.Run(ctx, baseInput(), cfg)
	if res.StopReason != StopFinish || res.CurrentUsage != 2 {
		t.Fatalf("U-1 应放行: %q usage=%d", res.StopReason, res.CurrentUsage)
	}

	// 现在 current==U，下一轮拦截
	res, _ = p.Run(ctx, baseInput(), cfg)
	if res.StopReason != StopOverusage {
		t.Fatalf("达到上限应拦截: %q", res.StopReason)
	}
	if res.StopMessage != "今日用量已达上限" {
		t.Fatalf("stop_message: %q", res.StopMessage)
	}
}

// 昨天的计数在新的一天自动归零
func TestUsageDailyReset(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	cfg := baseConfig()
	cfg.UsageLimit = 3

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.DailyUsageCount = 3
	doc.UsageDate = "20250831"
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, _ := p.Run(ctx, baseInput(), cfg)
	if res.StopReason != StopFinish || res.CurrentUsage != 1 {
		t.Fatalf("跨日应重置: %q usage=%d", res.StopReason, res.CurrentUsage)
	}
}

func TestFavorAndPersonaStages(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Bot = &model.BotConfig{
		BotID:            "bot1",
		FavorPrompts:     []string{"冷淡", "热情"},
		FavorSplitPoints: []int{50},
	}

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.FavorValue = 60
	doc.PersonaAttributes.BasicInfo = "三年级学生"
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, _ := p.Run(ctx, baseInput(), cfg)
	if res.FavorValue != 60 || res.FavorPrompt != "热情" {
		t.Fatalf("好感度阶段: %d %q", res.FavorValue, res.FavorPrompt)
	}
	if !strings.Contains(res.PersonaText, "基本信息: 三年级学生") {
		t.Fatalf("画像阶段: %q", res.PersonaText)
	}
	if !strings.Contains(res.MainPrompt, "热情") || !strings.Contains(res.MainPrompt, "用户画像") {
		t.Fatalf("提示词装配: %q", res.MainPrompt)
	}
}

// 跨群好感度：群文档陈旧值不生效，以模板为准
func TestFavorCrossGroupReadsTemplate(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Cross = policy.CrossGroup{Favor: true}

	tplKey := model.Key{BotID: "bot1", GroupID: model.TemplateGroupID, UserID: "u1"}
	tpl := model.NewDocument(tplKey, testNow)
	tpl.FavorValue = 10
	if err := s.Insert(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	in := baseInput()
	in.GroupID = "g2" // g2 从未写入过
	res, err := p.Run(ctx, in, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FavorValue != 10 {
		t.Fatalf("应读模板好感度: %d", res.FavorValue)
	}
}

func TestContextStage(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()
	cfg := baseConfig()
	cfg.ContextPoolSize = 2

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	for i := 0; i < 4; i++ {
		doc.HistoryEntries = append(doc.HistoryEntries, model.HistoryEntry{
			UserName: "小明", UserQuery: "问题", Response: "回答",
		})
	}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	res, _ := p.Run(ctx, baseInput(), cfg)
	if res.ContextCount != 2 {
		t.Fatalf("context_count = %d", res.ContextCount)
	}
	if !strings.Contains(res.ContextText, "小明: 问题") {
		t.Fatalf("context_text: %q", res.ContextText)
	}
}

func TestMemoryStage(t *testing.T) {
	p, s := newPipeline()
	ctx := context.Background()

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	doc := model.NewDocument(key, testNow)
	doc.LongTermMemory = []model.MemoryEntry{
		{UserInput: "我喜欢下雨天", MemoryDescription: "用户喜欢下雨天"},
		{UserInput: "养了一只猫", MemoryDescription: "用户养猫"},
	}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	in := baseInput()
	in.UserQuery = "下雨天适合做什么"
	res, _ := p.Run(ctx, in, baseConfig())
	if len(res.HitMemories) == 0 {
		t.Fatalf("应命中下雨天相关记忆")
	}
	if res.HitMemories[0].MemoryDescription != "用户喜欢下雨天" {
		t.Fatalf("命中排序: %+v", res.HitMemories)
	}
	// 命中次数已回写
	got, _ := s.Get(ctx, key)
	if got.LongTermMemory[0].HitCount != 1 {
		t.Fatalf("hit_count = %d", got.LongTermMemory[0].HitCount)
	}
}

func TestJudgeFavor(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"评分：8", 4},
		{"4", 0},
		{"1", -3},
		{"没有数字", 0},
		{"6和8", 3}, // 均值7，减4
	}
	for _, c := range cases {
		if got := JudgeFavor(c.text); got != c.want {
			t.Fatalf("JudgeFavor(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestRecorderRecordTurn(t *testing.T) {
	_, s := newPipeline()
	ctx := context.Background()
	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	if err := s.Insert(ctx, model.NewDocument(key, testNow)); err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(s)
	rec.Now = func() time.Time { return testNow }
	total, err := rec.RecordTurn(ctx, key, "小明", "问题", "回答", TurnUsage{PromptTokens: 10, OutputTokens: 20})
	if err != nil || total != 1 {
		t.Fatalf("RecordTurn: total=%d err=%v", total, err)
	}
	doc, _ := s.Get(ctx, key)
	if doc.TotalUsage.TotalChatCount != 1 || doc.TotalUsage.TotalTokens != 30 {
		t.Fatalf("累计统计: %+v", doc.TotalUsage)
	}
	if doc.TotalUsage.TotalPromptToken != 10 || doc.TotalUsage.TotalOutputToken != 20 {
		t.Fatalf("token 统计: %+v", doc.TotalUsage)
	}
}

func TestRecorderApplyFavorDelta(t *testing.T) {
	_, s := newPipeline()
	ctx := context.Background()
	rec := NewRecorder(s)
	rec.Now = func() time.Time { return testNow }

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	if err := rec.ApplyFavorDelta(ctx, key, policy.CrossGroup{}, 3); err != nil {
		t.Fatalf("ApplyFavorDelta: %v", err)
	}
	doc, _ := s.Get(ctx, key)
	if doc.FavorValue != 3 || doc.LastFavorChange != 3 {
		t.Fatalf("好感度回写: %+v", doc)
	}
	// delta 为 0 时不写
	v := doc.Version
	if err := rec.ApplyFavorDelta(ctx, key, policy.CrossGroup{}, 0); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.Get(ctx, key)
	if doc.Version != v {
		t.Fatalf("零变化不应产生写入")
	}
}

func TestRecorderViolationEscalation(t *testing.T) {
	_, s := newPipeline()
	ctx := context.Background()
	rec := NewRecorder(s)
	rec.Now = func() time.Time { return testNow }

	key := model.Key{BotID: "bot1", GroupID: "g1", UserID: "u1"}
	for i := 1; i <= 2; i++ {
		count, err := rec.RegisterViolation(ctx, key, policy.CrossGroup{})
		if err != nil || count != i {
			t.Fatalf("第%d次违规: count=%d err=%v", i, count, err)
		}
	}
	doc, _ := s.Get(ctx, key)
	if doc.BlockStats.BlockStatus {
		t.Fatalf("违规后应为封禁状态")
	}
	if doc.BlockStats.BlockCount != 2 {
		t.Fatalf("block_count = %d", doc.BlockStats.BlockCount)
	}
}

func TestRetrieveMemoriesTopK(t *testing.T) {
	memories := []model.MemoryEntry{
		{MemoryDescription: "喜欢下雨天"},
		{MemoryDescription: "下雨天听歌"},
		{MemoryDescription: "养了一只猫"},
		{MemoryDescription: "下雨天看书"},
	}
	hits, updated := RetrieveMemories("下雨天做什么", memories, 2)
	if len(hits) != 2 {
		t.Fatalf("topK 截断: %d", len(hits))
	}
	count := 0
	for _, m := range updated {
		count += m.HitCount
	}
	if count != 2 {
		t.Fatalf("命中计数总和: %d", count)
	}
}
