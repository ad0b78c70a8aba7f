package policy

import (
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
)

// CrossGroup 四个跨群开关的快照。开关启用时，对应类型的读写
// 统一路由到模板文档（group_id=9999），模板文档即唯一数据源。
type CrossGroup struct {
	Favor      bool
	Persona    bool
	Blacklist  bool
	UsageLimit bool
}

// FromGroupConfig 从群配置提取跨群开关。
func FromGroupConfig(gc *model.GroupConfig) CrossGroup {
	return CrossGroup{
		Favor:      gc.FavorCrossGroup,
		Persona:    gc.PersonaCrossGroup,
		Blacklist:  gc.BlacklistCrossGroup,
		UsageLimit: gc.UsageLimitCrossGroup,
	}
}

// EnabledFor 判断某数据类型是否处于跨群模式。
func (c CrossGroup) EnabledFor(typeKey string) bool {
	switch typeKey {
	case model.TypeFavor:
		return c.Favor
	case model.TypePersona:
		return c.Persona
	case model.TypeBlacklist:
		return c.Blacklist
	case model.TypeUsage:
		return c.UsageLimit
	}
	return false
}

// EnabledForField 字段粒度的跨群判定：类型开关启用且字段不属
// 群内本地集合（usage 的 total_usage.* 永远按群存放）。
func (c CrossGroup) EnabledForField(typeKey, field string) bool {
	if !c.EnabledFor(typeKey) {
		return false
	}
	if spec, ok := model.Types[typeKey]; ok && spec.GroupLocalField(field) {
		return false
	}
	return true
}

// RouteKey 按类型路由存取目标：跨群启用时改写到模板文档。
func (c CrossGroup) RouteKey(key model.Key, typeKey string) model.Key {
	if c.EnabledFor(typeKey) {
		return key.TemplateKey()
	}
	return key
}

// RouteFieldKey 字段粒度路由，群内本地字段不改写到模板。
func (c CrossGroup) RouteFieldKey(key model.Key, typeKey, field string) model.Key {
	if c.EnabledForField(typeKey, field) {
		return key.TemplateKey()
	}
	return key
}
