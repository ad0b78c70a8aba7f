package command

import (
	"fmt"
	"strings"

	"github.com/xiaolan20020118-create/Project-Roza/module/userstate/model"
)

// FormatValue 将文档中某类型（或其单个字段）的当前值渲染为
// 指令回显文本。
func FormatValue(doc *model.Document, typeKey, field string) string {
	if field != "" {
		v, ok := model.GetPath(doc, field)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%s=%v", field, v)
	}
	switch typeKey {
	case model.TypeFavor:
		return fmt.Sprintf("好感度: %d（最近变化: %d）", doc.FavorValue, doc.LastFavorChange)
	case model.TypeUsage:
		return fmt.Sprintf("今日用量: %d，累计对话: %d，累计token: %d",
			doc.DailyUsageCount, doc.TotalUsage.TotalChatCount, doc.TotalUsage.TotalTokens)
	case model.TypePersona:
		return FormatPersona(doc.PersonaAttributes)
	case model.TypeBlacklist:
		status := "正常"
		if !doc.BlockStats.BlockStatus {
			status = "已拉黑"
		}
		return fmt.Sprintf("状态: %s，违规次数: %d，最后操作: %s",
			status, doc.BlockStats.BlockCount, doc.BlockStats.LastOperateTime)
	case model.TypeMemory:
		if len(doc.LongTermMemory) == 0 {
			return "暂无长期记忆"
		}
		parts := make([]string, 0, len(doc.LongTermMemory))
		for i, m := range doc.LongTermMemory {
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, m.MemoryDescription))
		}
		return fmt.Sprintf("长期记忆 %d 条：%s", len(doc.LongTermMemory), strings.Join(parts, "；"))
	case model.TypeContext:
		return fmt.Sprintf("历史记录 %d 条（累计 %d 条）",
			len(doc.HistoryEntries), doc.HistoryStats.TotalHistories)
	}
	return ""
}

// FormatPersona 画像的中文标签渲染。
func FormatPersona(p model.PersonaAttributes) string {
	if s := p.Describe(); s != "" {
		return s
	}
	return "暂无画像信息"
}
