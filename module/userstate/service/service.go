package service

import (
	"context"
	"time"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/command"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/pipeline"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/policy"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/store"
)

// Engine 用户状态引擎的对外门面：管理指令与会话流水线
// 共享同一份存储与配置。
type Engine struct {
	Store store.Store
	Cfg   *ConfigService

	Now func() time.Time
}

func NewEngine(s store.Store, cfg *ConfigService) *Engine {
	return &Engine{Store: s, Cfg: cfg, Now: time.Now}
}

// IsCommand 文本层的指令判定。
func (e *Engine) IsCommand(text string) bool {
	return command.IsCommand(text)
}

// ExecuteCommand 以调用方所在群的配置执行一条管理指令。
func (e *Engine) ExecuteCommand(ctx context.Context, botID, groupID, userID, text string) (*command.Result, error) {
	bc, err := e.Cfg.BotConfig(ctx, botID)
	if err != nil {
		return nil, err
	}
	gc, err := e.Cfg.GroupConfig(ctx, botID, groupID)
	if err != nil {
		return nil, err
	}
	exec := command.NewExecutor(e.Store, policy.FromGroupConfig(gc), gc.ContextPoolSize)
	exec.Now = e.Now
	return exec.Execute(ctx, text, bc.IsAdmin(userID)), nil
}

// RunTurn 执行一轮会话流水线。IsAdmin 由机器人配置推导，
// 调用方无需自带。
func (e *Engine) RunTurn(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	bc, err := e.Cfg.BotConfig(ctx, in.BotID)
	if err != nil {
		return nil, err
	}
	gc, err := e.Cfg.GroupConfig(ctx, in.BotID, in.GroupID)
	if err != nil {
		return nil, err
	}
	in.IsAdmin = in.IsAdmin || bc.IsAdmin(in.UserID)

	p := pipeline.New(e.Store)
	p.Now = e.Now
	return p.Run(ctx, in, pipeline.ConfigFrom(bc, gc))
}

// CompleteTurn 一轮会话产出回复后的状态回写：
// 历史追加、token 统计、好感度评分落库。
func (e *Engine) CompleteTurn(ctx context.Context, in pipeline.Input, response, judgeText string, usage pipeline.TurnUsage) error {
	gc, err := e.Cfg.GroupConfig(ctx, in.BotID, in.GroupID)
	if err != nil {
		return err
	}
	cross := policy.FromGroupConfig(gc)
	key := model.Key{BotID: in.BotID, GroupID: in.GroupID, UserID: in.UserID}

	rec := pipeline.NewRecorder(e.Store)
	rec.Now = e.Now
	if _, err := rec.RecordTurn(ctx, key, in.UserName, in.UserQuery, response, usage); err != nil {
		return err
	}
	if gc.EnableFavor {
		if err := rec.ApplyFavorDelta(ctx, key, cross, pipeline.JudgeFavor(judgeText)); err != nil {
			return err
		}
	}
	return nil
}

// ReportViolation 记一次违规并进入封禁，返回当前违规计数。
func (e *Engine) ReportViolation(ctx context.Context, botID, groupID, userID string) (int, error) {
	gc, err := e.Cfg.GroupConfig(ctx, botID, groupID)
	if err != nil {
		return 0, err
	}
	rec := pipeline.NewRecorder(e.Store)
	rec.Now = e.Now
	key := model.Key{BotID: botID, GroupID: groupID, UserID: userID}
	return rec.RegisterViolation(ctx, key, policy.FromGroupConfig(gc))
}
