package model

import "time"

// TemplateGroupID 是每个 bot 的跨群模板文档使用的 group_id，
// 不对应任何真实群组。
const TemplateGroupID = "9999"

// Key 唯一定位一条用户状态文档。
type Key struct {
	BotID   string `bson:"bot_id" json:"bot_id"`
	GroupID string `bson:"group_id" json:"group_id"`
	UserID  string `bson:"user_id" json:"user_id"`
}

// TemplateKey 返回同一 bot/user 下的模板文档 Key。
func (k Key) TemplateKey() Key {
	return Key{BotID: k.BotID, GroupID: TemplateGroupID, UserID: k.UserID}
}

// IsTemplate 判断该 Key 是否指向模板文档。
func (k Key) IsTemplate() bool { return k.GroupID == TemplateGroupID }

// Document 表示一条 (bot, group, user) 的用户状态文档。
// 跨群字段（favor/persona/blacklist/daily_usage_count）在对应开关启用时
// 以模板文档（group_id=9999）为准；其余字段各群独立。
type Document struct {
	BotID   string `bson:"bot_id"`
	GroupID string `bson:"group_id"`
	UserID  string `bson:"user_id"`

	// favor 相关（受 favor_cross_group 影响）
	FavorValue      int `bson:"favor_value"`       // 好感度值
	LastFavorChange int `bson:"last_favor_change"` // 最后一次好感度变化量

	// persona 相关（受 persona_cross_group 影响）
	PersonaAttributes PersonaAttributes `bson:"persona_attributes"`

	// blacklist 相关（受 blacklist_cross_group 影响）
	BlockStats BlockStats `bson:"block_stats"`

	// usage 相关：daily_usage_count 受 usage_limit_cross_group 影响，
	// total_usage 各群独立，不跨群
	DailyUsageCount int        `bson:"daily_usage_count"`
	UsageDate       string     `bson:"usage_date"` // YYYYMMDD，每日重置锚点
	TotalUsage      TotalUsage `bson:"total_usage"`

	// 非跨群字段（各群独立）
	LongTermMemory []MemoryEntry  `bson:"long_term_memory"`
	HistoryEntries []HistoryEntry `bson:"history_entries"`
	HistoryStats   HistoryStats   `bson:"history_stats"`

	// 系统字段
	CreatedAt string `bson:"created_at"` // 首次写入后不变
	UpdatedAt string `bson:"updated_at"` // 每次写入刷新
	Version   int64  `bson:"version"`    // 乐观锁版本号，每次写入自增
}

// Key 返回文档的复合主键。
func (d *Document) Key() Key {
	return Key{BotID: d.BotID, GroupID: d.GroupID, UserID: d.UserID}
}

// PersonaAttributes 用户画像的 7 个命名属性。
type PersonaAttributes struct {
	BasicInfo            string `bson:"basic_info" json:"basic_info"`                       // 基本信息
	LivingHabits         string `bson:"living_habits" json:"living_habits"`                 // 生活习惯
	PsychologicalTraits  string `bson:"psychological_traits" json:"psychological_traits"`   // 心理特征
	InterestsPreferences string `bson:"interests_preferences" json:"interests_preferences"` // 兴趣偏好
	Dislikes             string `bson:"dislikes" json:"dislikes"`                           // 反感点
	AIExpectations       string `bson:"ai_expectations" json:"ai_expectations"`             // 对AI的期望
	MemoryPoints         string `bson:"memory_points" json:"memory_points"`                 // 希望记住的信息
}

// BlockStats 黑名单状态。BlockStatus 约定 true=pass，false=block。
type BlockStats struct {
	BlockStatus     bool   `bson:"block_status" json:"block_status"`
	BlockCount      int    `bson:"block_count" json:"block_count"`
	LastOperateTime string `bson:"last_operate_time" json:"last_operate_time"` // ISO8601
}

// TotalUsage 累计用量统计，各群独立。
type TotalUsage struct {
	TotalChatCount   int `bson:"total_chat_count" json:"total_chat_count"`
	TotalTokens      int `bson:"total_tokens" json:"total_tokens"`
	TotalPromptToken int `bson:"total_prompt_token" json:"total_prompt_token"`
	TotalOutputToken int `bson:"total_output_token" json:"total_output_token"`
}

// MemoryEntry 一条长期记忆。
type MemoryEntry struct {
	UserInput         string `bson:"user_input" json:"user_input"`
	MemoryDescription string `bson:"memory_description" json:"memory_description"`
	HitCount          int    `bson:"hit_count" json:"hit_count"`
}

// HistoryEntry 一条历史会话记录。
type HistoryEntry struct {
	UserName  string `bson:"user_name" json:"user_name"`
	UserQuery string `bson:"user_query" json:"user_query"`
	Response  string `bson:"response" json:"response"`
	CreatedAt string `bson:"created_at" json:"created_at"` // ISO8601
}

// HistoryStats 历史统计。
type HistoryStats struct {
	TotalHistories int `bson:"total_histories" json:"total_histories"`
}

// FormatTime 文档内时间戳的统一格式（ISO8601，UTC）。
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

// FormatDate 返回 YYYYMMDD 格式日期。
func FormatDate(t time.Time) string {
	return t.Format("20060102")
}

// DefaultPersonaAttributes 画像默认值：全部空字符串。
func DefaultPersonaAttributes() PersonaAttributes {
	return PersonaAttributes{}
}

// DefaultBlockStats 黑名单默认值：pass 状态、零计数。
func DefaultBlockStats(now time.Time) BlockStats {
	return BlockStats{
		BlockStatus:     true,
		BlockCount:      0,
		LastOperateTime: FormatTime(now),
	}
}

// NewDocument 按声明的默认值创建文档（不含模板继承）。
func NewDocument(key Key, now time.Time) *Document {
	ts := FormatTime(now)
	return &Document{
		BotID:             key.BotID,
		GroupID:           key.GroupID,
		UserID:            key.UserID,
		FavorValue:        0,
		LastFavorChange:   0,
		PersonaAttributes: DefaultPersonaAttributes(),
		BlockStats:        DefaultBlockStats(now),
		DailyUsageCount:   0,
		UsageDate:         "",
		TotalUsage:        TotalUsage{},
		LongTermMemory:    []MemoryEntry{},
		HistoryEntries:    []HistoryEntry{},
		HistoryStats:      HistoryStats{},
		CreatedAt:         ts,
		UpdatedAt:         ts,
		Version:           0,
	}
}

// Clone 深拷贝文档，内存存储返回副本时使用。
func (d *Document) Clone() *Document {
	cp := *d
	cp.LongTermMemory = append([]MemoryEntry(nil), d.LongTermMemory...)
	cp.HistoryEntries = append([]HistoryEntry(nil), d.HistoryEntries...)
	return &cp
}

// DailyUsage 返回按日期归一化后的当日用量：
// usage_date 不是 today 时视为 0（每日重置的幂等读取语义）。
func (d *Document) DailyUsage(today string) int {
	if d.UsageDate != today {
		return 0
	}
	return d.DailyUsageCount
}
