package model

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func TestApplyPathAndGetPath(t *testing.T) {
	doc := NewDocument(Key{BotID: "b1", GroupID: "g1", UserID: "u1"}, testNow)

	changed, err := ApplyPath(doc, "favor_value", 10)
	if err != nil {
		t.Fatalf("ApplyPath favor_value: %v", err)
	}
	if !changed {
		t.Fatalf("期望发生修改")
	}
	v, ok := GetPath(doc, "favor_value")
	if !ok || v.(int) != 10 {
		t.Fatalf("GetPath favor_value = %v", v)
	}

	// 同值写入不算修改
	changed, err = ApplyPath(doc, "favor_value", 10)
	if err != nil {
		t.Fatalf("ApplyPath 重复写入: %v", err)
	}
	if changed {
		t.Fatalf("同值写入不应计为修改")
	}

	// 字符串形式的数字也能写入整数字段
	changed, err = ApplyPath(doc, "daily_usage_count", "3")
	if err != nil || !changed {
		t.Fatalf("字符串数字写入失败: changed=%v err=%v", changed, err)
	}
	if doc.DailyUsageCount != 3 {
		t.Fatalf("daily_usage_count = %d", doc.DailyUsageCount)
	}
}

func TestApplyPathUnknown(t *testing.T) {
	doc := NewDocument(Key{}, testNow)
	if _, err := ApplyPath(doc, "no_such_field", 1); err == nil {
		t.Fatalf("未知路径应报错")
	}
	if _, err := ApplyPath(doc, "created_at", "2020"); err == nil {
		t.Fatalf("created_at 不可写")
	}
}

func TestApplyPathNested(t *testing.T) {
	doc := NewDocument(Key{}, testNow)

	if _, err := ApplyPath(doc, "persona_attributes.basic_info", "学生"); err != nil {
		t.Fatalf("写入画像字段: %v", err)
	}
	if doc.PersonaAttributes.BasicInfo != "学生" {
		t.Fatalf("basic_info = %q", doc.PersonaAttributes.BasicInfo)
	}

	if _, err := ApplyPath(doc, "block_stats.block_status", false); err != nil {
		t.Fatalf("写入黑名单状态: %v", err)
	}
	if doc.BlockStats.BlockStatus {
		t.Fatalf("block_status 应为 false")
	}

	if _, err := ApplyPath(doc, "total_usage.total_tokens", 120); err != nil {
		t.Fatalf("写入累计token: %v", err)
	}
	if doc.TotalUsage.TotalTokens != 120 {
		t.Fatalf("total_tokens = %d", doc.TotalUsage.TotalTokens)
	}
}

func TestCoerceSetValue(t *testing.T) {
	if _, err := CoerceSetValue(TypeFavor, "favor_value", "abc"); err == nil {
		t.Fatalf("非整数的好感度应报错")
	}
	v, err := CoerceSetValue(TypeFavor, "favor_value", "15")
	if err != nil || v.(int) != 15 {
		t.Fatalf("favor_value 转换: v=%v err=%v", v, err)
	}

	b, err := CoerceSetValue(TypeBlacklist, "block_stats.block_status", "false")
	if err != nil || b.(bool) {
		t.Fatalf("block_status 转换: v=%v err=%v", b, err)
	}

	s, err := CoerceSetValue(TypePersona, "persona_attributes.dislikes", "吵闹")
	if err != nil || s.(string) != "吵闹" {
		t.Fatalf("画像字段应原样保留: v=%v err=%v", s, err)
	}
}

func TestClearFieldValue(t *testing.T) {
	if v := ClearFieldValue(TypeUsage, "total_usage.total_tokens", testNow); v.(int) != 0 {
		t.Fatalf("累计token清零: %v", v)
	}
	if v := ClearFieldValue(TypeFavor, "favor_value", testNow); v.(int) != 0 {
		t.Fatalf("好感度清零: %v", v)
	}
	if v := ClearFieldValue(TypeBlacklist, "block_stats.last_operate_time", testNow); v.(string) != FormatTime(testNow) {
		t.Fatalf("last_operate_time 应清为当前时间: %v", v)
	}
}

func TestResolveRankField(t *testing.T) {
	spec := Types[TypeUsage]
	full, ok := spec.ResolveRankField("total_chat_count")
	if !ok || full != "total_usage.total_chat_count" {
		t.Fatalf("叶子名解析: %q %v", full, ok)
	}
	if _, ok := spec.ResolveRankField("no_such"); ok {
		t.Fatalf("未知字段不应解析成功")
	}
}

func TestDailyUsage(t *testing.T) {
	doc := NewDocument(Key{}, testNow)
	doc.DailyUsageCount = 5
	doc.UsageDate = "20250831"
	if got := doc.DailyUsage("20250901"); got != 0 {
		t.Fatalf("跨日读取应归零，got %d", got)
	}
	if got := doc.DailyUsage("20250831"); got != 5 {
		t.Fatalf("同日读取 got %d", got)
	}
}

func TestFavorPrompt(t *testing.T) {
	bc := BotConfig{
		FavorPrompts:     []string{"冷淡", "普通", "亲密"},
		FavorSplitPoints: []int{0, 50},
	}
	if p := bc.FavorPrompt(-10); p != "冷淡" {
		t.Fatalf("负好感度: %q", p)
	}
	if p := bc.FavorPrompt(10); p != "普通" {
		t.Fatalf("中段好感度: %q", p)
	}
	if p := bc.FavorPrompt(80); p != "亲密" {
		t.Fatalf("高好感度: %q", p)
	}
}
