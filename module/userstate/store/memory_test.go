package store

import (
	"context"
	"testing"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	s.Now = func() time.Time { return testNow }
	return s
}

func seed(t *testing.T, s *MemoryStore, key model.Key) *model.Document {
	t.Helper()
	doc := model.NewDocument(key, testNow)
	if err := s.Insert(context.Background(), doc); err != nil {
		t.Fatalf("seed %v: %v", key, err)
	}
	return doc
}

func TestGetMissing(t *testing.T) {
	s := newTestStore()
	doc, err := s.Get(context.Background(), model.Key{BotID: "b", GroupID: "g", UserID: "u"})
	if err != nil || doc != nil {
		t.Fatalf("缺失文档应返回 (nil, nil)，got %v %v", doc, err)
	}
}

func TestUpdateManyCountsOnlyChanged(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	k1 := model.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	k2 := model.Key{BotID: "b", GroupID: "g2", UserID: "u"}
	seed(t, s, k1)
	d2 := model.NewDocument(k2, testNow)
	d2.FavorValue = 10
	if err := s.Insert(ctx, d2); err != nil {
		t.Fatal(err)
	}

	p, _ := policy.ParseTarget("b:any:u")
	n, err := s.UpdateMany(ctx, p, map[string]interface{}{"favor_value": 10})
	if err != nil {
		t.Fatalf("UpdateMany: %v", err)
	}
	if n != 1 {
		t.Fatalf("已是目标值的文档不应计数，got %d", n)
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := model.Key{BotID: "b", GroupID: "g", UserID: "u"}
	seed(t, s, key)

	ok, err := s.CompareAndSwap(ctx, key, 0, map[string]interface{}{"favor_value": 5})
	if err != nil || !ok {
		t.Fatalf("版本匹配应成功: ok=%v err=%v", ok, err)
	}
	// 版本已自增，旧版本号写入失败
	ok, err = s.CompareAndSwap(ctx, key, 0, map[string]interface{}{"favor_value": 9})
	if err != nil || ok {
		t.Fatalf("过期版本应失败: ok=%v err=%v", ok, err)
	}
	doc, _ := s.Get(ctx, key)
	if doc.FavorValue != 5 {
		t.Fatalf("favor_value = %d", doc.FavorValue)
	}
}

func TestIncrementUsage(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := model.Key{BotID: "b", GroupID: "g", UserID: "u"}
	doc := model.NewDocument(key, testNow)
	doc.DailyUsageCount = 7
	doc.UsageDate = "20250831" // 昨天
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	// 跨日首次自增：先重置再计数
	count, allowed, err := s.IncrementUsage(ctx, key, "20250901", 2)
	if err != nil || !allowed || count != 1 {
		t.Fatalf("跨日重置后应为1: count=%d allowed=%v err=%v", count, allowed, err)
	}
	count, allowed, _ = s.IncrementUsage(ctx, key, "20250901", 2)
	if !allowed || count != 2 {
		t.Fatalf("第二次应为2: count=%d allowed=%v", count, allowed)
	}
	// 达到上限后拦截，计数不再增长
	count, allowed, _ = s.IncrementUsage(ctx, key, "20250901", 2)
	if allowed || count != 2 {
		t.Fatalf("达到上限应拦截: count=%d allowed=%v", count, allowed)
	}
	// limit<=0 不限量
	_, allowed, _ = s.IncrementUsage(ctx, key, "20250901", 0)
	if !allowed {
		t.Fatalf("不限量模式不应拦截")
	}
}

func TestAppendAndTrimHistory(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := model.Key{BotID: "b", GroupID: "g", UserID: "u"}
	seed(t, s, key)

	for i := 0; i < 5; i++ {
		if _, err := s.AppendHistory(ctx, key, model.HistoryEntry{UserQuery: "q", Response: "r"}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	removed, err := s.TrimHistory(ctx, key, 3)
	if err != nil || removed != 3 {
		t.Fatalf("应删除3条: removed=%d err=%v", removed, err)
	}
	doc, _ := s.Get(ctx, key)
	if len(doc.HistoryEntries) != 2 {
		t.Fatalf("剩余 %d 条", len(doc.HistoryEntries))
	}
	if doc.HistoryStats.TotalHistories != 2 {
		t.Fatalf("total_histories = %d", doc.HistoryStats.TotalHistories)
	}
	// 再删超过现有条数，只删到空且不为负
	removed, _ = s.TrimHistory(ctx, key, 10)
	if removed != 2 {
		t.Fatalf("第二次应删除2条: %d", removed)
	}
	doc, _ = s.Get(ctx, key)
	if doc.HistoryStats.TotalHistories != 0 {
		t.Fatalf("total_histories 不应为负: %d", doc.HistoryStats.TotalHistories)
	}
}

func TestRank(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	for i, favor := range []int{3, 9, 6} {
		key := model.Key{BotID: "b", GroupID: "g", UserID: string(rune('a' + i))}
		doc := model.NewDocument(key, testNow)
		doc.FavorValue = favor
		if err := s.Insert(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := policy.ParseTarget("b:g:any")
	items, err := s.Rank(ctx, p, "favor_value", 2)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(items) != 2 || items[0].UserID != "b" || items[1].UserID != "c" {
		t.Fatalf("排行结果: %+v", items)
	}
}

func TestEnsureDocumentInheritsTemplate(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	cg := policy.CrossGroup{Favor: true, Persona: true}

	tplKey := model.Key{BotID: "b", GroupID: model.TemplateGroupID, UserID: "u"}
	tpl := model.NewDocument(tplKey, testNow)
	tpl.FavorValue = 42
	tpl.PersonaAttributes.BasicInfo = "老朋友"
	tpl.LongTermMemory = []model.MemoryEntry{{MemoryDescription: "x"}}
	if err := s.Insert(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	key := model.Key{BotID: "b", GroupID: "g2", UserID: "u"}
	doc, err := EnsureDocument(ctx, s, key, cg, testNow)
	if err != nil {
		t.Fatalf("EnsureDocument: %v", err)
	}
	if doc.FavorValue != 42 || doc.PersonaAttributes.BasicInfo != "老朋友" {
		t.Fatalf("跨群字段应继承模板: %+v", doc)
	}
	if len(doc.LongTermMemory) != 0 {
		t.Fatalf("记忆不应从模板继承")
	}
}

func TestEnsureDocumentSynthesizesTemplate(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	cg := policy.CrossGroup{Favor: true}

	g1 := model.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	d1 := model.NewDocument(g1, testNow)
	d1.FavorValue = 7
	if err := s.Insert(ctx, d1); err != nil {
		t.Fatal(err)
	}

	// 无模板时从既有群文档合成
	g2 := model.Key{BotID: "b", GroupID: "g2", UserID: "u"}
	doc, err := EnsureDocument(ctx, s, g2, cg, testNow)
	if err != nil {
		t.Fatalf("EnsureDocument: %v", err)
	}
	if doc.FavorValue != 7 {
		t.Fatalf("应继承合成模板的好感度: %d", doc.FavorValue)
	}
	tpl, _ := s.Get(ctx, g1.TemplateKey())
	if tpl == nil || tpl.FavorValue != 7 {
		t.Fatalf("模板文档应已创建: %+v", tpl)
	}
}

func TestEnsureDocumentNoCrossNoTemplate(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := model.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	if _, err := EnsureDocument(ctx, s, key, policy.CrossGroup{}, testNow); err != nil {
		t.Fatalf("EnsureDocument: %v", err)
	}
	tpl, _ := s.Get(ctx, key.TemplateKey())
	if tpl != nil {
		t.Fatalf("未启用跨群不应创建模板")
	}
}
