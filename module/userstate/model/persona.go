package model

import "strings"

var personaLabels = []struct {
	label string
	get   func(p PersonaAttributes) string
}{
	{"基本信息", func(p PersonaAttributes) string { return p.BasicInfo }},
	{"生活习惯", func(p PersonaAttributes) string { return p.LivingHabits }},
	{"心理特征", func(p PersonaAttributes) string { return p.PsychologicalTraits }},
	{"兴趣偏好", func(p PersonaAttributes) string { return p.InterestsPreferences }},
	{"反感点", func(p PersonaAttributes) string { return p.Dislikes }},
	{"对AI的期望", func(p PersonaAttributes) string { return p.AIExpectations }},
	{"记忆点", func(p PersonaAttributes) string { return p.MemoryPoints }},
}

// Describe 按中文标签渲染画像，空属性跳过。
func (p PersonaAttributes) Describe() string {
	parts := make([]string, 0, len(personaLabels))
	for _, l := range personaLabels {
		if v := l.get(p); v != "" {
			parts = append(parts, l.label+": "+v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "；")
}
