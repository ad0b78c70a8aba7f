package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

// Prefix 管理指令前缀。
const Prefix = "/Roza"

// 指令格式：
//
//	/Roza.<action>.<type>[.any] <bot:group:user> [key=value跨群开关] [字段] [值]
//
// .any 段开启通配寻址；省略时三段必须为精确值。
// 跨群开关只对 set/clear 生效。

const (
	ActionGet   = "get"
	ActionSet   = "set"
	ActionClear = "clear"
	ActionRank  = "rank"
)

// detectRe 前缀按整词出现才视为指令，避免误命中词中片段。
var detectRe = regexp.MustCompile(`(^|\s)` + regexp.QuoteMeta(Prefix) + `\.`)

// IsCommand 判断文本是否包含管理指令。
func IsCommand(text string) bool {
	return detectRe.MatchString(text)
}

// Command 解析后的一条指令。
type Command struct {
	Action  string
	TypeKey string
	HasAny  bool
	Target  policy.Pattern
	Field   string // 完整点分路径，可为空
	Value   string // set 的原始值
	Limit   int    // rank 返回条数
	Flags   map[string]bool
}

// 可在指令中临时覆盖的跨群开关名。
var crossFlagNames = map[string]bool{
	"favor_cross_group":       true,
	"persona_cross_group":     true,
	"blacklist_cross_group":   true,
	"usage_limit_cross_group": true,
}

// Parse 解析指令文本。任何格式问题返回 *errs.CodeError。
func Parse(raw string) (*Command, error) {
	loc := detectRe.FindStringIndex(raw)
	if loc == nil {
		return nil, errs.ErrCommandFormat.WithDetail("未找到指令前缀")
	}
	text := strings.TrimSpace(raw[loc[0]:])
	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return nil, errs.ErrCommandFormat.WithDetail("缺少目标地址")
	}

	head := strings.Split(tokens[0], ".")
	// head[0] 是前缀本体
	if len(head) < 3 || head[0] != Prefix {
		return nil, errs.ErrCommandFormat.WithDetail("指令头必须为 " + Prefix + ".<action>.<type>")
	}
	cmd := &Command{
		Action:  head[1],
		TypeKey: head[2],
		Flags:   map[string]bool{},
	}
	switch cmd.Action {
	case ActionGet, ActionSet, ActionClear, ActionRank:
	default:
		return nil, errs.ErrCommandFormat.WithDetail("未知操作 " + cmd.Action)
	}
	spec, ok := model.Types[cmd.TypeKey]
	if !ok {
		return nil, errs.ErrCommandFormat.WithDetail("未知数据类型 " + cmd.TypeKey)
	}
	if len(head) == 4 {
		if head[3] != "any" {
			return nil, errs.ErrCommandFormat.WithDetail("指令头第四段只能是 any")
		}
		cmd.HasAny = true
	} else if len(head) > 4 {
		return nil, errs.ErrCommandFormat.WithDetail("指令头段数过多")
	}

	targetRaw := tokens[1]
	if cmd.HasAny {
		// any 模式下 user 段的 all 等价于 any
		parts := strings.Split(targetRaw, ":")
		if len(parts) == 3 && parts[2] == "all" {
			parts[2] = "any"
			targetRaw = strings.Join(parts, ":")
		}
	}
	target, err := policy.ParseTarget(targetRaw)
	if err != nil {
		return nil, err
	}
	if !cmd.HasAny && target.HasWildcard() {
		return nil, errs.ErrCommandFormat.WithDetail("通配地址必须使用 .any 模式")
	}
	cmd.Target = target

	rest := tokens[2:]

	// 前导的 key=value 识别为跨群开关覆盖
	for len(rest) > 0 {
		k, v, found := strings.Cut(rest[0], "=")
		if !found || !crossFlagNames[k] {
			break
		}
		b, err := model.ToBool(v)
		if err != nil {
			return nil, errs.ErrValueInvalid.WithDetail(k + " 的值必须是 true/false")
		}
		cmd.Flags[k] = b
		rest = rest[1:]
	}
	if len(cmd.Flags) > 0 && cmd.Action != ActionSet && cmd.Action != ActionClear {
		return nil, errs.ErrCommandFormat.WithDetail("跨群开关只能用于 set/clear")
	}

	// 下一个 token 若能解析为该类型的字段则作为字段
	if len(rest) > 0 {
		if full, ok := resolveField(spec, rest[0]); ok {
			cmd.Field = full
			rest = rest[1:]
		}
	}

	switch cmd.Action {
	case ActionSet:
		if len(rest) == 0 {
			return nil, errs.ErrParamPair
		}
		cmd.Value = strings.Join(rest, " ")
	case ActionRank:
		cmd.Limit = 10
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, errs.ErrValueInvalid.WithDetail("rank 条数必须是整数")
			}
			cmd.Limit = n
			rest = rest[1:]
		}
		if cmd.Limit < 1 {
			cmd.Limit = 1
		}
		if cmd.Limit > 30 {
			cmd.Limit = 30
		}
		if len(rest) > 0 {
			return nil, errs.ErrCommandFormat.WithDetail("rank 参数过多")
		}
	case ActionGet, ActionClear:
		if len(rest) > 0 {
			return nil, errs.ErrCommandFormat.WithDetail("多余的参数 " + strings.Join(rest, " "))
		}
	}
	return cmd, nil
}

// resolveField 字段既接受完整路径也接受叶子名，
// 如 basic_info → persona_attributes.basic_info。
func resolveField(spec model.TypeSpec, token string) (string, bool) {
	for _, f := range spec.Fields {
		if token == f {
			return f, true
		}
	}
	for _, f := range spec.Fields {
		if token == f[strings.LastIndex(f, ".")+1:] {
			return f, true
		}
	}
	return "", false
}
