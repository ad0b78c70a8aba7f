package policy

import (
	"strings"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

// 指令的目标地址形如 bot:group:user，三段各自支持：
//   any        匹配任意值
//   精确值      等值匹配
//   %后缀 前缀% %子串%  通配匹配
// 含 any 或通配的目标只读已有文档，不触发创建。

// SegmentKind 单段匹配方式。
type SegmentKind int

const (
	SegExact SegmentKind = iota
	SegAny
	SegPrefix   // abc%
	SegSuffix   // %abc
	SegContains // %abc%
)

// Segment 目标地址中的一段。
type Segment struct {
	Kind  SegmentKind
	Value string
}

// Pattern 一个完整的三段目标。
type Pattern struct {
	Bot   Segment
	Group Segment
	User  Segment
}

// Exact 构造精确三段目标。
func Exact(botID, groupID, userID string) Pattern {
	return Pattern{
		Bot:   Segment{Kind: SegExact, Value: botID},
		Group: Segment{Kind: SegExact, Value: groupID},
		User:  Segment{Kind: SegExact, Value: userID},
	}
}

// ParseTarget 解析 bot:group:user 目标串。
func ParseTarget(raw string) (Pattern, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Pattern{}, errs.ErrCommandFormat.WithDetail("目标格式必须为 bot:group:user")
	}
	var segs [3]Segment
	for i, p := range parts {
		seg, err := parseSegment(strings.TrimSpace(p))
		if err != nil {
			return Pattern{}, err
		}
		segs[i] = seg
	}
	return Pattern{Bot: segs[0], Group: segs[1], User: segs[2]}, nil
}

func parseSegment(s string) (Segment, error) {
	if s == "" {
		return Segment{}, errs.ErrCommandFormat.WithDetail("目标段不能为空")
	}
	if s == "any" {
		return Segment{Kind: SegAny}, nil
	}
	pre := strings.HasPrefix(s, "%")
	suf := strings.HasSuffix(s, "%")
	switch {
	case pre && suf:
		v := strings.Trim(s, "%")
		if v == "" {
			return Segment{Kind: SegAny}, nil
		}
		return Segment{Kind: SegContains, Value: v}, nil
	case suf:
		return Segment{Kind: SegPrefix, Value: strings.TrimSuffix(s, "%")}, nil
	case pre:
		return Segment{Kind: SegSuffix, Value: strings.TrimPrefix(s, "%")}, nil
	}
	return Segment{Kind: SegExact, Value: s}, nil
}

// IsExact 三段均为精确值。
func (p Pattern) IsExact() bool {
	return p.Bot.Kind == SegExact && p.Group.Kind == SegExact && p.User.Kind == SegExact
}

// HasWildcard 任一段含 any 或通配。
func (p Pattern) HasWildcard() bool { return !p.IsExact() }

// ExactKey 精确目标转文档 Key，非精确返回 false。
func (p Pattern) ExactKey() (model.Key, bool) {
	if !p.IsExact() {
		return model.Key{}, false
	}
	return model.Key{BotID: p.Bot.Value, GroupID: p.Group.Value, UserID: p.User.Value}, true
}

// Match 判断 Key 是否命中该目标，内存存储的查询路径使用。
func (p Pattern) Match(k model.Key) bool {
	return p.Bot.match(k.BotID) && p.Group.match(k.GroupID) && p.User.match(k.UserID)
}

func (s Segment) match(v string) bool {
	switch s.Kind {
	case SegAny:
		return true
	case SegExact:
		return v == s.Value
	case SegPrefix:
		return strings.HasPrefix(v, s.Value)
	case SegSuffix:
		return strings.HasSuffix(v, s.Value)
	case SegContains:
		return strings.Contains(v, s.Value)
	}
	return false
}

// String 还原目标串，日志输出用。
func (p Pattern) String() string {
	return p.Bot.String() + ":" + p.Group.String() + ":" + p.User.String()
}

func (s Segment) String() string {
	switch s.Kind {
	case SegAny:
		return "any"
	case SegPrefix:
		return s.Value + "%"
	case SegSuffix:
		return "%" + s.Value
	case SegContains:
		return "%" + s.Value + "%"
	}
	return s.Value
}
