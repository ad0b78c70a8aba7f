package model

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// 文档的点分字段寻址。指令系统与内存存储共用同一套路径表，
// 保证两种存储实现对同一 update 集合的语义一致。

// GetPath 按点分路径读取字段值，未知路径返回 (nil, false)。
func GetPath(d *Document, path string) (interface{}, bool) {
	switch path {
	case "bot_id":
		return d.BotID, true
	case "group_id":
		return d.GroupID, true
	case "user_id":
		return d.UserID, true
	case "favor_value":
		return d.FavorValue, true
	case "last_favor_change":
		return d.LastFavorChange, true
	case "persona_attributes":
		return d.PersonaAttributes, true
	case "persona_attributes.basic_info":
		return d.PersonaAttributes.BasicInfo, true
	case "persona_attributes.living_habits":
		return d.PersonaAttributes.LivingHabits, true
	case "persona_attributes.psychological_traits":
		return d.PersonaAttributes.PsychologicalTraits, true
	case "persona_attributes.interests_preferences":
		return d.PersonaAttributes.InterestsPreferences, true
	case "persona_attributes.dislikes":
		return d.PersonaAttributes.Dislikes, true
	case "persona_attributes.ai_expectations":
		return d.PersonaAttributes.AIExpectations, true
	case "persona_attributes.memory_points":
		return d.PersonaAttributes.MemoryPoints, true
	case "block_stats":
		return d.BlockStats, true
	case "block_stats.block_status":
		return d.BlockStats.BlockStatus, true
	case "block_stats.block_count":
		return d.BlockStats.BlockCount, true
	case "block_stats.last_operate_time":
		return d.BlockStats.LastOperateTime, true
	case "daily_usage_count":
		return d.DailyUsageCount, true
	case "usage_date":
		return d.UsageDate, true
	case "total_usage":
		return d.TotalUsage, true
	case "total_usage.total_chat_count":
		return d.TotalUsage.TotalChatCount, true
	case "total_usage.total_tokens":
		return d.TotalUsage.TotalTokens, true
	case "total_usage.total_prompt_token":
		return d.TotalUsage.TotalPromptToken, true
	case "total_usage.total_output_token":
		return d.TotalUsage.TotalOutputToken, true
	case "long_term_memory":
		return d.LongTermMemory, true
	case "history_entries":
		return d.HistoryEntries, true
	case "history_stats.total_histories":
		return d.HistoryStats.TotalHistories, true
	case "created_at":
		return d.CreatedAt, true
	case "updated_at":
		return d.UpdatedAt, true
	}
	return nil, false
}

// ApplyPath 按点分路径写入字段值，返回值是否发生变化。
// 未知路径或类型不兼容返回错误。created_at 不可写。
func ApplyPath(d *Document, path string, value interface{}) (bool, error) {
	switch path {
	case "favor_value":
		return setInt(&d.FavorValue, value)
	case "last_favor_change":
		return setInt(&d.LastFavorChange, value)
	case "persona_attributes":
		return setPersona(&d.PersonaAttributes, value)
	case "persona_attributes.basic_info":
		return setString(&d.PersonaAttributes.BasicInfo, value)
	case "persona_attributes.living_habits":
		return setString(&d.PersonaAttributes.LivingHabits, value)
	case "persona_attributes.psychological_traits":
		return setString(&d.PersonaAttributes.PsychologicalTraits, value)
	case "persona_attributes.interests_preferences":
		return setString(&d.PersonaAttributes.InterestsPreferences, value)
	case "persona_attributes.dislikes":
		return setString(&d.PersonaAttributes.Dislikes, value)
	case "persona_attributes.ai_expectations":
		return setString(&d.PersonaAttributes.AIExpectations, value)
	case "persona_attributes.memory_points":
		return setString(&d.PersonaAttributes.MemoryPoints, value)
	case "block_stats":
		return setBlockStats(&d.BlockStats, value)
	case "block_stats.block_status":
		return setBool(&d.BlockStats.BlockStatus, value)
	case "block_stats.block_count":
		return setInt(&d.BlockStats.BlockCount, value)
	case "block_stats.last_operate_time":
		return setString(&d.BlockStats.LastOperateTime, value)
	case "daily_usage_count":
		return setInt(&d.DailyUsageCount, value)
	case "usage_date":
		return setString(&d.UsageDate, value)
	case "total_usage.total_chat_count":
		return setInt(&d.TotalUsage.TotalChatCount, value)
	case "total_usage.total_tokens":
		return setInt(&d.TotalUsage.TotalTokens, value)
	case "total_usage.total_prompt_token":
		return setInt(&d.TotalUsage.TotalPromptToken, value)
	case "total_usage.total_output_token":
		return setInt(&d.TotalUsage.TotalOutputToken, value)
	case "total_usage":
		return setTotalUsage(&d.TotalUsage, value)
	case "long_term_memory":
		return setMemoryEntries(&d.LongTermMemory, value)
	case "history_entries":
		return setHistoryEntries(&d.HistoryEntries, value)
	case "history_stats.total_histories":
		return setInt(&d.HistoryStats.TotalHistories, value)
	case "updated_at":
		return setString(&d.UpdatedAt, value)
	}
	return false, fmt.Errorf("unknown field path %q", path)
}

func setInt(dst *int, value interface{}) (bool, error) {
	n, err := ToInt(value)
	if err != nil {
		return false, err
	}
	if *dst == n {
		return false, nil
	}
	*dst = n
	return true, nil
}

func setString(dst *string, value interface{}) (bool, error) {
	s := ToString(value)
	if *dst == s {
		return false, nil
	}
	*dst = s
	return true, nil
}

func setBool(dst *bool, value interface{}) (bool, error) {
	b, err := ToBool(value)
	if err != nil {
		return false, err
	}
	if *dst == b {
		return false, nil
	}
	*dst = b
	return true, nil
}

func setPersona(dst *PersonaAttributes, value interface{}) (bool, error) {
	v, ok := value.(PersonaAttributes)
	if !ok {
		return false, fmt.Errorf("persona_attributes expects PersonaAttributes, got %T", value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setBlockStats(dst *BlockStats, value interface{}) (bool, error) {
	v, ok := value.(BlockStats)
	if !ok {
		return false, fmt.Errorf("block_stats expects BlockStats, got %T", value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setTotalUsage(dst *TotalUsage, value interface{}) (bool, error) {
	v, ok := value.(TotalUsage)
	if !ok {
		return false, fmt.Errorf("total_usage expects TotalUsage, got %T", value)
	}
	if *dst == v {
		return false, nil
	}
	*dst = v
	return true, nil
}

func setMemoryEntries(dst *[]MemoryEntry, value interface{}) (bool, error) {
	v, ok := value.([]MemoryEntry)
	if !ok {
		return false, fmt.Errorf("long_term_memory expects []MemoryEntry, got %T", value)
	}
	if reflect.DeepEqual(*dst, v) {
		return false, nil
	}
	*dst = append([]MemoryEntry(nil), v...)
	return true, nil
}

func setHistoryEntries(dst *[]HistoryEntry, value interface{}) (bool, error) {
	v, ok := value.([]HistoryEntry)
	if !ok {
		return false, fmt.Errorf("history_entries expects []HistoryEntry, got %T", value)
	}
	if reflect.DeepEqual(*dst, v) {
		return false, nil
	}
	*dst = append([]HistoryEntry(nil), v...)
	return true, nil
}

// ToInt 宽松整数转换：数值类型直接截断，字符串去空白后解析。
func ToInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", v)
		}
		return n, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("not an integer: %T", value)
}

// ToBool 宽松布尔转换：true/false、1/0（含字符串形式）。
func ToBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	case int:
		return v != 0, nil
	}
	return false, fmt.Errorf("not a boolean: %T", value)
}

// ToString 任意值转字符串。
func ToString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// NumericValue 用于 rank：数值取原值，数组取长度，其余解析失败为 0。
func NumericValue(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case []MemoryEntry:
		return float64(len(v))
	case []HistoryEntry:
		return float64(len(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
