package model

import (
	"strings"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

// 指令系统支持的数据类型。新增类型时只需补一条表项，
// 解析器/执行器按表驱动，不做类型分支。
const (
	TypeFavor     = "favor"
	TypeUsage     = "usage"
	TypeMemory    = "memory"
	TypeContext   = "context"
	TypePersona   = "persona"
	TypeBlacklist = "blacklist"
)

// TypeSpec 描述一种数据类型的字段集合与 get/set/clear 行为。
type TypeSpec struct {
	Key    string
	Fields []string // 可寻址的点分字段

	// DefaultSetField 为空时 set 必须显式指定字段
	DefaultSetField string

	// CrossGroupEligible 为 true 时该类型受对应跨群开关约束
	CrossGroupEligible bool

	// GroupLocalPrefixes 即便跨群开关启用也保持群内本地的字段前缀。
	// usage 的累计量永远按群统计，不进模板文档。
	GroupLocalPrefixes []string

	// ClearSet 生成类型级 clear 的更新集合；context 例外，
	// 其类型级 clear 按 pool_size 裁剪而非整组重置
	ClearSet func(now time.Time) map[string]interface{}

	// RankFields 支持 rank 的完整字段路径（空表示不支持 rank）
	RankFields []string
}

// Types 类型策略表。
var Types = map[string]TypeSpec{
	TypeFavor: {
		Key:                TypeFavor,
		Fields:             []string{"favor_value", "last_favor_change"},
		DefaultSetField:    "favor_value",
		CrossGroupEligible: true,
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"favor_value": 0, "last_favor_change": 0}
		},
		RankFields: []string{"favor_value", "last_favor_change"},
	},
	TypeUsage: {
		Key: TypeUsage,
		Fields: []string{
			"daily_usage_count",
			"total_usage.total_chat_count",
			"total_usage.total_tokens",
			"total_usage.total_prompt_token",
			"total_usage.total_output_token",
		},
		DefaultSetField:    "daily_usage_count",
		CrossGroupEligible: true,
		GroupLocalPrefixes: []string{"total_usage."},
		// 类型级 clear 只重置当日计数，累计量需要精确字段
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"daily_usage_count": 0}
		},
		RankFields: []string{
			"daily_usage_count",
			"total_usage.total_chat_count",
			"total_usage.total_tokens",
			"total_usage.total_prompt_token",
			"total_usage.total_output_token",
		},
	},
	TypeMemory: {
		Key:    TypeMemory,
		Fields: []string{"long_term_memory"},
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"long_term_memory": []MemoryEntry{}}
		},
		RankFields: []string{"long_term_memory"},
	},
	TypeContext: {
		Key:    TypeContext,
		Fields: []string{"history_entries"},
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"history_entries": []HistoryEntry{}}
		},
		RankFields: []string{"history_entries"},
	},
	TypePersona: {
		Key: TypePersona,
		Fields: []string{
			"persona_attributes.basic_info",
			"persona_attributes.living_habits",
			"persona_attributes.psychological_traits",
			"persona_attributes.interests_preferences",
			"persona_attributes.dislikes",
			"persona_attributes.ai_expectations",
			"persona_attributes.memory_points",
		},
		CrossGroupEligible: true,
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"persona_attributes": DefaultPersonaAttributes()}
		},
	},
	TypeBlacklist: {
		Key: TypeBlacklist,
		Fields: []string{
			"block_stats.block_status",
			"block_stats.block_count",
			"block_stats.last_operate_time",
		},
		DefaultSetField:    "block_stats.block_status",
		CrossGroupEligible: true,
		ClearSet: func(now time.Time) map[string]interface{} {
			return map[string]interface{}{"block_stats": DefaultBlockStats(now)}
		},
		RankFields: []string{"block_stats.block_count"},
	},
}

// GroupLocalField 判断字段在跨群模式下是否仍属群内本地。
func (s TypeSpec) GroupLocalField(field string) bool {
	for _, p := range s.GroupLocalPrefixes {
		if strings.HasPrefix(field, p) {
			return true
		}
	}
	return false
}

// KnownField 判断字段是否属于该类型的可寻址集合。
func (s TypeSpec) KnownField(field string) bool {
	for _, f := range s.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// ResolveRankField 按叶子节点匹配 rank 字段：
// total_chat_count → total_usage.total_chat_count。
func (s TypeSpec) ResolveRankField(field string) (string, bool) {
	if field == "" {
		return "", false
	}
	leaf := field[strings.LastIndex(field, ".")+1:]
	for _, full := range s.RankFields {
		if field == full {
			return full, true
		}
		if leaf == full[strings.LastIndex(full, ".")+1:] {
			return full, true
		}
	}
	return "", false
}

// CoerceSetValue 按类型/字段校验并转换 set 的原始参数值。
// 数值字段转 int，block_status 转 bool，其余按字符串落库。
func CoerceSetValue(typeKey, field, raw string) (interface{}, error) {
	switch {
	case typeKey == TypeFavor && (field == "favor_value" || field == "last_favor_change"):
		n, err := ToInt(raw)
		if err != nil {
			return nil, errs.ErrValueInvalid.WithDetail(field + "必须是整数")
		}
		return n, nil
	case field == "block_stats.block_count" || field == "daily_usage_count" ||
		strings.HasPrefix(field, "total_usage."):
		n, err := ToInt(raw)
		if err != nil {
			return nil, errs.ErrValueInvalid.WithDetail(field + "必须是整数")
		}
		return n, nil
	case field == "block_stats.block_status":
		b, err := ToBool(raw)
		if err != nil {
			return nil, errs.ErrValueInvalid.WithDetail("block_status必须是布尔值 (true/false)")
		}
		return b, nil
	}
	return raw, nil
}

// ClearFieldValue 生成字段级 clear 的目标值。
// total_usage.* 允许精确清零；last_operate_time 清为当前时间；
// 其余取类型默认集合中的对应值，缺省按 count 结尾清零、否则清空串。
func ClearFieldValue(typeKey, field string, now time.Time) interface{} {
	if typeKey == TypeUsage && strings.HasPrefix(field, "total_usage.") {
		return 0
	}
	if typeKey == TypeBlacklist && field == "block_stats.last_operate_time" {
		return FormatTime(now)
	}
	spec, ok := Types[typeKey]
	if ok {
		defaults := NewDocument(Key{}, now)
		for p, v := range spec.ClearSet(now) {
			_, _ = ApplyPath(defaults, p, v)
		}
		if v, ok := GetPath(defaults, field); ok {
			return v
		}
	}
	if strings.HasSuffix(field, "count") || strings.Contains(field, "_count") {
		return 0
	}
	return ""
}
