package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaolan20020118-create/Project-Roza/logger"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/pipeline"
	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/service"
)

// Handler 用户状态引擎的 HTTP 入口。
type Handler struct {
	Engine *service.Engine
}

func New(engine *service.Engine) *Handler {
	return &Handler{Engine: engine}
}

// Register 挂载路由。
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/command", h.Command)
	api.POST("/chat", h.Chat)
	api.POST("/turn/complete", h.CompleteTurn)
	api.POST("/violation", h.Violation)
	api.POST("/config/cross_group", h.SetCrossGroup)
}

type commandReq struct {
	BotID   string `json:"bot_id" binding:"required"`
	GroupID string `json:"group_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

// Command 执行管理指令。
func (h *Handler) Command(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	res, err := h.Engine.ExecuteCommand(c.Request.Context(), req.BotID, req.GroupID, req.UserID, req.Text)
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
}

// Chat 一轮会话：文本命中指令前缀时转指令路径，
// 否则走门控流水线。
func (h *Handler) Chat(c *gin.Context) {
	var in pipeline.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	if h.Engine.IsCommand(in.UserQuery) {
		res, err := h.Engine.ExecuteCommand(c.Request.Context(), in.BotID, in.GroupID, in.UserID, in.UserQuery)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "kind": "command", "data": res})
		return
	}
	res, err := h.Engine.RunTurn(c.Request.Context(), in)
	if err != nil {
		logger.Error("turn pipeline failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "kind": "chat", "data": res})
}

type completeReq struct {
	pipeline.Input
	Response  string             `json:"response" binding:"required"`
	JudgeText string             `json:"judge_text"`
	Usage     pipeline.TurnUsage `json:"usage"`
}

// CompleteTurn 回写一轮会话的历史与统计。
func (h *Handler) CompleteTurn(c *gin.Context) {
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	if err := h.Engine.CompleteTurn(c.Request.Context(), req.Input, req.Response, req.JudgeText, req.Usage); err != nil {
		logger.Error("complete turn failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0})
}

type violationReq struct {
	BotID   string `json:"bot_id" binding:"required"`
	GroupID string `json:"group_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
}

// Violation 上报一次违规。
func (h *Handler) Violation(c *gin.Context) {
	var req violationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	count, err := h.Engine.ReportViolation(c.Request.Context(), req.BotID, req.GroupID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"block_count": count}})
}

type crossGroupReq struct {
	BotID   string `json:"bot_id" binding:"required"`
	GroupID string `json:"group_id" binding:"required"`
	Flag    string `json:"flag" binding:"required"`
	Value   bool   `json:"value"`
}

// SetCrossGroup 修改群的跨群开关。
func (h *Handler) SetCrossGroup(c *gin.Context) {
	var req crossGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	if err := h.Engine.Cfg.SetCrossGroup(c.Request.Context(), req.BotID, req.GroupID, req.Flag, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0})
}
