package policy

import (
	"testing"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
)

func TestParseTargetExact(t *testing.T) {
	p, err := ParseTarget("bot1:group1:user1")
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}
	if !p.IsExact() {
		t.Fatalf("应为精确目标")
	}
	key, ok := p.ExactKey()
	if !ok || key.BotID != "bot1" || key.GroupID != "group1" || key.UserID != "user1" {
		t.Fatalf("ExactKey = %+v", key)
	}
}

func TestParseTargetWildcards(t *testing.T) {
	cases := []struct {
		raw   string
		match model.Key
		miss  model.Key
	}{
		{"bot1:any:user1",
			model.Key{BotID: "bot1", GroupID: "g9", UserID: "user1"},
			model.Key{BotID: "bot2", GroupID: "g9", UserID: "user1"}},
		{"bot1:%:user1",
			model.Key{BotID: "bot1", GroupID: "whatever", UserID: "user1"},
			model.Key{BotID: "bot1", GroupID: "g", UserID: "user2"}},
		{"bot1:g%:user1",
			model.Key{BotID: "bot1", GroupID: "g12", UserID: "user1"},
			model.Key{BotID: "bot1", GroupID: "x12", UserID: "user1"}},
		{"bot1:%12:user1",
			model.Key{BotID: "bot1", GroupID: "g12", UserID: "user1"},
			model.Key{BotID: "bot1", GroupID: "g13", UserID: "user1"}},
		{"bot1:%2%:user1",
			model.Key{BotID: "bot1", GroupID: "123", UserID: "user1"},
			model.Key{BotID: "bot1", GroupID: "345", UserID: "user1"}},
	}
	for _, c := range cases {
		p, err := ParseTarget(c.raw)
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", c.raw, err)
		}
		if !p.HasWildcard() {
			t.Fatalf("%q 应为通配目标", c.raw)
		}
		if !p.Match(c.match) {
			t.Fatalf("%q 应命中 %+v", c.raw, c.match)
		}
		if p.Match(c.miss) {
			t.Fatalf("%q 不应命中 %+v", c.raw, c.miss)
		}
	}
}

func TestParseTargetInvalid(t *testing.T) {
	for _, raw := range []string{"a:b", "a:b:c:d", "::", "a::c"} {
		if _, err := ParseTarget(raw); err == nil {
			t.Fatalf("%q 应解析失败", raw)
		}
	}
}

func TestPatternString(t *testing.T) {
	p, _ := ParseTarget("bot1:g%:any")
	if s := p.String(); s != "bot1:g%:any" {
		t.Fatalf("String() = %q", s)
	}
}

func TestRouteKey(t *testing.T) {
	key := model.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	cg := CrossGroup{Favor: true}

	routed := cg.RouteKey(key, model.TypeFavor)
	if routed.GroupID != model.TemplateGroupID {
		t.Fatalf("favor 跨群应路由到模板: %+v", routed)
	}
	if r := cg.RouteKey(key, model.TypePersona); r != key {
		t.Fatalf("未启用的类型不应路由: %+v", r)
	}
	// memory/context 永不跨群
	all := CrossGroup{Favor: true, Persona: true, Blacklist: true, UsageLimit: true}
	if r := all.RouteKey(key, model.TypeMemory); r != key {
		t.Fatalf("memory 不应路由: %+v", r)
	}
	if r := all.RouteKey(key, model.TypeContext); r != key {
		t.Fatalf("context 不应路由: %+v", r)
	}
}

// usage 开关启用时当日计数路由模板，累计量保持群内
func TestRouteFieldKey(t *testing.T) {
	key := model.Key{BotID: "b", GroupID: "g1", UserID: "u"}
	cg := CrossGroup{UsageLimit: true}

	if r := cg.RouteFieldKey(key, model.TypeUsage, "daily_usage_count"); r.GroupID != model.TemplateGroupID {
		t.Fatalf("daily_usage_count 应路由模板: %+v", r)
	}
	if r := cg.RouteFieldKey(key, model.TypeUsage, "total_usage.total_tokens"); r != key {
		t.Fatalf("total_usage.* 不应路由: %+v", r)
	}
	if cg.EnabledForField(model.TypeUsage, "total_usage.total_chat_count") {
		t.Fatalf("total_usage.* 不应判定为跨群")
	}
	if !cg.EnabledForField(model.TypeUsage, "daily_usage_count") {
		t.Fatalf("daily_usage_count 应判定为跨群")
	}

	off := CrossGroup{}
	if r := off.RouteFieldKey(key, model.TypeUsage, "daily_usage_count"); r != key {
		t.Fatalf("开关关闭不应路由: %+v", r)
	}
}

func TestFromGroupConfig(t *testing.T) {
	gc := &model.GroupConfig{FavorCrossGroup: true, UsageLimitCrossGroup: true}
	cg := FromGroupConfig(gc)
	if !cg.Favor || !cg.UsageLimit || cg.Persona || cg.Blacklist {
		t.Fatalf("开关映射错误: %+v", cg)
	}
}
