package model

// BotConfig 机器人级配置，按 bot_id 存于 bot_config 集合。
type BotConfig struct {
	BotID       string `bson:"bot_id" json:"bot_id"`
	BotName     string `bson:"bot_name" json:"bot_name"`
	BotNickname string `bson:"bot_nickname" json:"bot_nickname"`
	LLMModel    string `bson:"llm_model" json:"llm_model"`
	BasicInfo   string `bson:"basic_info" json:"basic_info"`

	// 各类拦截时的随机回复候选
	OverusageOutput []string `bson:"overusage_output" json:"overusage_output"`
	OverinputOutput []string `bson:"overinput_output" json:"overinput_output"`
	ErrorOutput     []string `bson:"error_output" json:"error_output"`

	// 管理员用户 id 列表，指令鉴权依据
	AdminUsers []string `bson:"admin_users" json:"admin_users"`

	// 好感度提示词与分段点，按 favor_split_points 升序分段，
	// favor_prompts 比分段点多一个
	FavorPrompts     []string `bson:"favor_prompts" json:"favor_prompts"`
	FavorSplitPoints []int    `bson:"favor_split_points" json:"favor_split_points"`
}

// IsAdmin 判断 userID 是否在管理员列表中。
func (c *BotConfig) IsAdmin(userID string) bool {
	for _, id := range c.AdminUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// FavorPrompt 按分段点选取当前好感度对应的提示词。
func (c *BotConfig) FavorPrompt(favor int) string {
	if len(c.FavorPrompts) == 0 {
		return ""
	}
	idx := 0
	for _, p := range c.FavorSplitPoints {
		if favor >= p {
			idx++
		}
	}
	if idx >= len(c.FavorPrompts) {
		idx = len(c.FavorPrompts) - 1
	}
	return c.FavorPrompts[idx]
}

// GroupConfig 群级配置，按 (bot_id, group_id) 存于 group_config 集合。
// 各 enable 开关控制会话流水线对应阶段是否生效。
type GroupConfig struct {
	BotID   string `bson:"bot_id" json:"bot_id"`
	GroupID string `bson:"group_id" json:"group_id"`

	EnableBlacklist  bool `bson:"enable_blacklist" json:"enable_blacklist"`
	EnableUsageLimit bool `bson:"enable_usage_limit" json:"enable_usage_limit"`
	EnableInputLimit bool `bson:"enable_input_limit" json:"enable_input_limit"`
	EnableFavor      bool `bson:"enable_favor" json:"enable_favor"`
	EnablePersona    bool `bson:"enable_persona" json:"enable_persona"`
	EnableContext    bool `bson:"enable_context" json:"enable_context"`
	EnableMemory     bool `bson:"enable_memory" json:"enable_memory"`

	UsageLimit            int `bson:"usage_limit" json:"usage_limit"` // <=0 表示不限
	MaxInputSize          int `bson:"max_input_size" json:"max_input_size"`
	ContextPoolSize       int `bson:"context_pool_size" json:"context_pool_size"`
	MemoryRetrievalNumber int `bson:"memory_retrieval_number" json:"memory_retrieval_number"`

	// 黑名单升级参数：警告次数阈值与各级自动恢复时长（秒）
	WarnCount     int `bson:"warn_count" json:"warn_count"`
	WarnLifespan  int `bson:"warn_lifespan" json:"warn_lifespan"`
	BlockLifespan int `bson:"block_lifespan" json:"block_lifespan"`

	// 四个跨群开关
	FavorCrossGroup      bool `bson:"favor_cross_group" json:"favor_cross_group"`
	PersonaCrossGroup    bool `bson:"persona_cross_group" json:"persona_cross_group"`
	BlacklistCrossGroup  bool `bson:"blacklist_cross_group" json:"blacklist_cross_group"`
	UsageLimitCrossGroup bool `bson:"usage_limit_cross_group" json:"usage_limit_cross_group"`
}

// DefaultGroupConfig 未配置群的缺省值：全部阶段关闭，参数取保守值。
func DefaultGroupConfig(botID, groupID string) *GroupConfig {
	return &GroupConfig{
		BotID:                 botID,
		GroupID:               groupID,
		UsageLimit:            0,
		MaxInputSize:          500,
		ContextPoolSize:       10,
		MemoryRetrievalNumber: 3,
		WarnCount:             3,
		WarnLifespan:          600,
		BlockLifespan:         86400,
	}
}
