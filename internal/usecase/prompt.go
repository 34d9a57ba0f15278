package usecase

import (
	"counsel-bot/internal/domain"
)

// BuildPrompt assembles the system persona, the window's exchanges as
// user/assistant pairs in window order, and the new user message. The result
// always has 2*len(window)+2 entries.
func BuildPrompt(persona string, window domain.ConversationWindow, newMessage string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2*len(window)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: persona})
	for _, ex := range window {
		messages = append(messages,
			domain.ChatMessage{Role: domain.RoleUser, Content: ex.Question},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: ex.Answer},
		)
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: newMessage})
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
