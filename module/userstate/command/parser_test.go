package command

import (
	"testing"
)

func TestIsCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"/Roza.get.favor bot1:g1:u1", true},
		{"帮我查一下 /Roza.get.favor bot1:g1:u1", true},
		{"你好呀", false},
		// 前缀出现在词中间不算指令
		{"xx/Roza.get.favor bot1:g1:u1", false},
		{"好/Roza.set", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsCommand(c.text); got != c.want {
			t.Fatalf("IsCommand(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestParseBasic(t *testing.T) {
	cmd, err := Parse("/Roza.get.favor bot1:group1:user1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Action != ActionGet || cmd.TypeKey != "favor" || cmd.HasAny {
		t.Fatalf("解析结果: %+v", cmd)
	}
	key, ok := cmd.Target.ExactKey()
	if !ok || key.BotID != "bot1" {
		t.Fatalf("目标解析: %+v", key)
	}
}

func TestParseSetWithField(t *testing.T) {
	cmd, err := Parse("/Roza.set.persona bot1:g1:u1 basic_info 三年级学生")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Field != "persona_attributes.basic_info" {
		t.Fatalf("字段应解析为完整路径: %q", cmd.Field)
	}
	if cmd.Value != "三年级学生" {
		t.Fatalf("值: %q", cmd.Value)
	}
}

func TestParseSetValueWithSpaces(t *testing.T) {
	cmd, err := Parse("/Roza.set.persona bot1:g1:u1 memory_points 喜欢 下雨天")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Value != "喜欢 下雨天" {
		t.Fatalf("含空格的值应整体保留: %q", cmd.Value)
	}
}

func TestParseAnyWithFlags(t *testing.T) {
	cmd, err := Parse("/Roza.set.favor.any bot1:%:user1 favor_cross_group=true 10")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cmd.HasAny {
		t.Fatalf("应为 any 模式")
	}
	if v, ok := cmd.Flags["favor_cross_group"]; !ok || !v {
		t.Fatalf("跨群开关: %+v", cmd.Flags)
	}
	if cmd.Value != "10" {
		t.Fatalf("值: %q", cmd.Value)
	}
}

func TestParseAllSentinel(t *testing.T) {
	cmd, err := Parse("/Roza.get.favor.any bot1:g1:all")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cmd.Target.HasWildcard() {
		t.Fatalf("all 应等价于 any")
	}
}

func TestParseRank(t *testing.T) {
	cmd, err := Parse("/Roza.rank.favor.any bot1:any:any favor_value 5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Limit != 5 || cmd.Field != "favor_value" {
		t.Fatalf("rank 参数: limit=%d field=%q", cmd.Limit, cmd.Field)
	}

	// 条数超界收敛到 [1,30]
	cmd, err = Parse("/Roza.rank.favor.any bot1:any:any 100")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Limit != 30 {
		t.Fatalf("limit 应钳制为30: %d", cmd.Limit)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"/Roza.get.favor",                       // 缺目标
		"/Roza.fly.favor b:g:u",                 // 未知操作
		"/Roza.get.unknown b:g:u",               // 未知类型
		"/Roza.get.favor.some b:g:u",            // 第四段非 any
		"/Roza.get.favor bot1:%:u1",             // 通配必须 any 模式
		"/Roza.set.favor b:g:u",                 // set 缺值
		"/Roza.get.favor b:g:u 多余参数",            // get 不接受多余参数
		"/Roza.get.favor.any b:g:u favor_cross_group=true", // get 不接受开关
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("%q 应解析失败", raw)
		}
	}
}
