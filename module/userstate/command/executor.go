package command

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
	"github.com/xiaolan20020118-create/Project-Roza/tools/errs"
)

// LogEntry 单条目标的执行记录。
type LogEntry struct {
	Target   string `json:"target"`
	Result   string `json:"result"`
	Modified bool   `json:"modified"`
}

// Result 指令执行的扁平结果记录，无论成败都返回。
type Result struct {
	Result        string                 `json:"result"`
	CommandType   string                 `json:"command_type"`
	Parameters    map[string]interface{} `json:"parameters"`
	ModifiedCount int                    `json:"modified_count"`
	Logs          []LogEntry             `json:"logs"`
	Action        string                 `json:"action"`
	TypeKey       string                 `json:"type_key"`
	Field         string                 `json:"field,omitempty"`
	HasAny        bool                   `json:"has_any"`
}

// Executor 指令执行器。Cross 是机器人配置的跨群开关缺省值，
// 指令内的 key=value 开关对本次 set/clear 临时覆盖。
type Executor struct {
	Store    store.Store
	Cross    policy.CrossGroup
	PoolSize int // context 类型级 clear 的窗口大小

	Now func() time.Time
}

func NewExecutor(s store.Store, cross policy.CrossGroup, poolSize int) *Executor {
	return &Executor{Store: s, Cross: cross, PoolSize: poolSize, Now: time.Now}
}

// Execute 解析并执行指令。鉴权失败与格式错误都以结果记录
// 返回，不向调用方抛错。
func (e *Executor) Execute(ctx context.Context, raw string, isAdmin bool) *Result {
	if !isAdmin {
		return &Result{
			Result:      errs.ErrNoPermission.Msg,
			CommandType: "admin_command",
			Parameters:  map[string]interface{}{"raw": raw},
		}
	}
	cmd, err := Parse(raw)
	if err != nil {
		return &Result{
			Result:      errText(err),
			CommandType: "admin_command",
			Parameters:  map[string]interface{}{"raw": raw},
		}
	}

	res := &Result{
		CommandType: cmd.Action + "." + cmd.TypeKey,
		Parameters: map[string]interface{}{
			"target": cmd.Target.String(),
			"field":  cmd.Field,
			"value":  cmd.Value,
			"flags":  cmd.Flags,
			"limit":  cmd.Limit,
		},
		Action:  cmd.Action,
		TypeKey: cmd.TypeKey,
		Field:   cmd.Field,
		HasAny:  cmd.HasAny,
	}

	switch cmd.Action {
	case ActionGet:
		e.execGet(ctx, cmd, res)
	case ActionSet:
		e.execSet(ctx, cmd, res)
	case ActionClear:
		e.execClear(ctx, cmd, res)
	case ActionRank:
		e.execRank(ctx, cmd, res)
	}

	logger.Info("admin command executed",
		zap.String("command_type", res.CommandType),
		zap.String("target", cmd.Target.String()),
		zap.Int("modified_count", res.ModifiedCount))
	return res
}

// effectiveCross 机器人配置叠加指令内的临时开关。
func (e *Executor) effectiveCross(cmd *Command) policy.CrossGroup {
	cg := e.Cross
	for k, v := range cmd.Flags {
		switch k {
		case "favor_cross_group":
			cg.Favor = v
		case "persona_cross_group":
			cg.Persona = v
		case "blacklist_cross_group":
			cg.Blacklist = v
		case "usage_limit_cross_group":
			cg.UsageLimit = v
		}
	}
	return cg
}

func (e *Executor) execGet(ctx context.Context, cmd *Command, res *Result) {
	if !cmd.HasAny {
		key, _ := cmd.Target.ExactKey()
		// 精确读取走跨群路由，any 模式读各文档原值
		routed := e.Cross.RouteKey(key, cmd.TypeKey)
		if cmd.Field != "" {
			routed = e.Cross.RouteFieldKey(key, cmd.TypeKey, cmd.Field)
		}
		doc, err := e.Store.Get(ctx, routed)
		if err != nil {
			res.Result = errText(err)
			return
		}
		if doc == nil {
			res.Result = "用户不存在"
			res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: "用户不存在"})
			return
		}
		// usage 的累计量永远取群内文档，模板只承载当日计数
		if cmd.TypeKey == model.TypeUsage && cmd.Field == "" && routed != key {
			local, lerr := e.Store.Get(ctx, key)
			if lerr != nil {
				res.Result = errText(lerr)
				return
			}
			doc.TotalUsage = model.TotalUsage{}
			if local != nil {
				doc.TotalUsage = local.TotalUsage
			}
		}
		text := FormatValue(doc, cmd.TypeKey, cmd.Field)
		res.Result = text
		res.ModifiedCount = 1
		res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: text})
		return
	}

	docs, err := e.Store.Find(ctx, cmd.Target)
	if err != nil {
		res.Result = errText(err)
		return
	}
	if len(docs) == 0 {
		res.Result = "暂无记录"
		res.Logs = append(res.Logs, LogEntry{Target: cmd.Target.String(), Result: "暂无记录"})
		return
	}
	for _, d := range docs {
		res.Logs = append(res.Logs, LogEntry{
			Target: keyString(d.Key()),
			Result: FormatValue(d, cmd.TypeKey, cmd.Field),
		})
	}
	res.ModifiedCount = len(docs)
	res.Result = fmt.Sprintf("查询到%d条记录", len(docs))
}

func (e *Executor) execSet(ctx context.Context, cmd *Command, res *Result) {
	spec := model.Types[cmd.TypeKey]
	field := cmd.Field
	if field == "" {
		field = spec.DefaultSetField
		if field == "" {
			res.Result = errs.ErrFieldRequired.Msg
			return
		}
	}
	value, err := model.CoerceSetValue(cmd.TypeKey, field, cmd.Value)
	if err != nil {
		res.Result = errText(err)
		return
	}
	res.Field = field
	cg := e.effectiveCross(cmd)

	if !cmd.HasAny {
		key, _ := cmd.Target.ExactKey()
		writeKey := cg.RouteFieldKey(key, cmd.TypeKey, field)
		changed, err := e.setOnKey(ctx, writeKey, cmd.TypeKey, field, value, true, cg)
		if err != nil {
			res.Result = errText(err)
			res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: errText(err)})
			return
		}
		if changed {
			res.ModifiedCount = 1
		}
		res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: setResultText(changed), Modified: changed})
		res.Result = fmt.Sprintf("set执行完成，共修改%d条记录", res.ModifiedCount)
		return
	}

	docs, err := e.Store.Find(ctx, cmd.Target)
	if err != nil {
		res.Result = errText(err)
		return
	}
	if len(docs) == 0 {
		res.Result = "暂无记录"
		res.Logs = append(res.Logs, LogEntry{Target: cmd.Target.String(), Result: "暂无记录"})
		return
	}

	if cg.EnabledForField(cmd.TypeKey, field) {
		// 跨群：同一 bot/user 只写一次模板，日志仍逐群记录，
		// 修改标记与模板写入的实际结果保持一致
		done := map[model.Key]bool{}
		chg := map[model.Key]bool{}
		for _, d := range docs {
			tpl := d.Key().TemplateKey()
			if !done[tpl] {
				changed, err := e.setOnKey(ctx, tpl, cmd.TypeKey, field, value, true, cg)
				if err != nil {
					res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: errText(err)})
					continue
				}
				done[tpl] = true
				chg[tpl] = changed
				if changed {
					res.ModifiedCount++
				}
			}
			text := "设置成功（跨群生效）"
			if !chg[tpl] {
				text = "无变化"
			}
			res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: text, Modified: chg[tpl]})
		}
	} else {
		for _, d := range docs {
			changed, err := e.setOnKey(ctx, d.Key(), cmd.TypeKey, field, value, false, cg)
			if err != nil {
				res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: errText(err)})
				continue
			}
			if changed {
				res.ModifiedCount++
			}
			res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: setResultText(changed), Modified: changed})
		}
	}
	res.Result = fmt.Sprintf("set执行完成，共修改%d条记录", res.ModifiedCount)
}

// setOnKey 对单个文档执行字段写入。favor_value 的写入联动
// last_favor_change 为本次变化量，带版本条件并在冲突时重试一次。
func (e *Executor) setOnKey(ctx context.Context, key model.Key, typeKey, field string, value interface{}, create bool, cg policy.CrossGroup) (bool, error) {
	var doc *model.Document
	var err error
	if create {
		doc, err = store.EnsureDocument(ctx, e.Store, key, cg, e.Now())
	} else {
		doc, err = e.Store.Get(ctx, key)
	}
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, errs.ErrStoreUnavailable.WithDetail("目标文档不存在")
	}

	if typeKey == model.TypeFavor && field == "favor_value" {
		n, err := model.ToInt(value)
		if err != nil {
			return false, err
		}
		for attempt := 0; attempt < 2; attempt++ {
			delta := n - doc.FavorValue
			changed := doc.FavorValue != n || doc.LastFavorChange != delta
			if !changed {
				return false, nil
			}
			ok, err := e.Store.CompareAndSwap(ctx, key, doc.Version, map[string]interface{}{
				"favor_value":       n,
				"last_favor_change": delta,
			})
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
			doc, err = e.Store.Get(ctx, key)
			if err != nil {
				return false, err
			}
			if doc == nil {
				return false, errs.ErrWriteConflict
			}
		}
		return false, errs.ErrWriteConflict
	}

	return e.Store.UpdateKey(ctx, key, map[string]interface{}{field: value})
}

func (e *Executor) execClear(ctx context.Context, cmd *Command, res *Result) {
	cg := e.effectiveCross(cmd)
	now := e.Now()

	// context 的类型级 clear 是窗口裁剪而非整组重置
	trimContext := cmd.TypeKey == model.TypeContext && cmd.Field == ""

	var set map[string]interface{}
	if !trimContext {
		if cmd.Field != "" {
			set = map[string]interface{}{cmd.Field: model.ClearFieldValue(cmd.TypeKey, cmd.Field, now)}
		} else {
			set = model.Types[cmd.TypeKey].ClearSet(now)
		}
	}

	clearOne := func(key model.Key, create bool) (int, string, error) {
		if trimContext {
			if create {
				if _, err := store.EnsureDocument(ctx, e.Store, key, cg, now); err != nil {
					return 0, "", err
				}
			}
			removed, err := e.Store.TrimHistory(ctx, key, e.PoolSize)
			if err != nil {
				return 0, "", err
			}
			if removed > 0 {
				return 1, fmt.Sprintf("已清理%d条历史记录", removed), nil
			}
			return 0, "暂无可清理的历史记录", nil
		}
		if create {
			if _, err := store.EnsureDocument(ctx, e.Store, key, cg, now); err != nil {
				return 0, "", err
			}
		}
		changed, err := e.Store.UpdateKey(ctx, key, set)
		if err != nil {
			return 0, "", err
		}
		if changed {
			return 1, "清除成功", nil
		}
		return 0, "无变化", nil
	}

	if !cmd.HasAny {
		key, _ := cmd.Target.ExactKey()
		writeKey := cg.RouteFieldKey(key, cmd.TypeKey, cmd.Field)
		n, text, err := clearOne(writeKey, true)
		if err != nil {
			res.Result = errText(err)
			res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: errText(err)})
			return
		}
		res.ModifiedCount = n
		res.Logs = append(res.Logs, LogEntry{Target: keyString(key), Result: text, Modified: n > 0})
		res.Result = fmt.Sprintf("clear执行完成，共修改%d条记录", n)
		return
	}

	docs, err := e.Store.Find(ctx, cmd.Target)
	if err != nil {
		res.Result = errText(err)
		return
	}
	if len(docs) == 0 {
		res.Result = "暂无记录"
		res.Logs = append(res.Logs, LogEntry{Target: cmd.Target.String(), Result: "暂无记录"})
		return
	}

	if cg.EnabledForField(cmd.TypeKey, cmd.Field) {
		done := map[model.Key]bool{}
		chg := map[model.Key]bool{}
		for _, d := range docs {
			tpl := d.Key().TemplateKey()
			if !done[tpl] {
				n, _, err := clearOne(tpl, true)
				if err != nil {
					res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: errText(err)})
					continue
				}
				done[tpl] = true
				chg[tpl] = n > 0
				res.ModifiedCount += n
			}
			text := "清除成功（跨群生效）"
			if !chg[tpl] {
				text = "无变化"
			}
			res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: text, Modified: chg[tpl]})
		}
	} else {
		for _, d := range docs {
			n, text, err := clearOne(d.Key(), false)
			if err != nil {
				res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: errText(err)})
				continue
			}
			res.ModifiedCount += n
			res.Logs = append(res.Logs, LogEntry{Target: keyString(d.Key()), Result: text, Modified: n > 0})
		}
	}
	res.Result = fmt.Sprintf("clear执行完成，共修改%d条记录", res.ModifiedCount)
}

func (e *Executor) execRank(ctx context.Context, cmd *Command, res *Result) {
	spec := model.Types[cmd.TypeKey]
	field := cmd.Field
	if field == "" {
		if len(spec.RankFields) == 0 {
			res.Result = errs.ErrCommandFormat.WithDetail("该类型不支持排行").Error()
			return
		}
		field = spec.RankFields[0]
	} else if full, ok := spec.ResolveRankField(field); ok {
		field = full
	} else {
		res.Result = errs.ErrCommandFormat.WithDetail("字段 " + field + " 不支持排行").Error()
		return
	}
	res.Field = field

	items, err := e.Store.Rank(ctx, cmd.Target, field, cmd.Limit)
	if err != nil {
		res.Result = errText(err)
		return
	}
	if len(items) == 0 {
		res.Result = "暂无记录"
		return
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, fmt.Sprintf("%s 排行榜：", field))
	for i, it := range items {
		lines = append(lines, fmt.Sprintf("%d. %s（%s）：%s", i+1, it.UserID, it.GroupID, trimFloat(it.Value)))
		res.Logs = append(res.Logs, LogEntry{
			Target: it.UserID,
			Result: fmt.Sprintf("第%d名 %s", i+1, trimFloat(it.Value)),
		})
	}
	res.ModifiedCount = len(items)
	res.Result = strings.Join(lines, "\n")
}

func setResultText(changed bool) string {
	if changed {
		return "设置成功"
	}
	return "无变化"
}

func keyString(k model.Key) string {
	return k.BotID + ":" + k.GroupID + ":" + k.UserID
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

func errText(err error) string {
	if ce, ok := err.(*errs.CodeError); ok {
		if ce.Detail != "" {
			return ce.Msg + "：" + ce.Detail
		}
		return ce.Msg
	}
	return errs.ErrStoreUnavailable.Msg + "：" + err.Error()
}
