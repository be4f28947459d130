package services

import (
	"strings"

	"ChatBridge/models"
)

const (
	SystemPrompt = "Eres un asistente virtual inteligente y servicial. Responde de manera clara, precisa y útil. Usa un tono profesional pero amigable."

	DefaultVisionPrompt = "Describe detalladamente esta imagen en español. Incluye los objetos, personas, texto visible y el contexto general."

	ChatTemperature = 0.7
	ChatMaxTokens   = 4000
)

// BuildSystemPrompt appends retrieved document context, when there is any.
func BuildSystemPrompt(ragContext string) string {
	if strings.TrimSpace(ragContext) == "" {
		return SystemPrompt
	}
	return SystemPrompt + "\n\nContexto de documentos relevantes:\n" + ragContext +
		"\n\nUsa esta información para enriquecer tu respuesta cuando sea relevante."
}

// FormatRAGContext renders matches as "**title**\ncontent" blocks.
func FormatRAGContext(results []SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, "**"+r.Title+"**\n"+r.Content)
	}
	return strings.Join(parts, "\n\n")
}

// HistoryToChat converts stored messages (oldest first) to provider turns,
// keeping only the last limit of them. Bot and admin replies are model turns;
// system notices are skipped.
func HistoryToChat(msgs []models.Message, limit int) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Sender {
		case models.SenderUser:
			out = append(out, ChatMessage{Role: "user", Text: m.Content})
		case models.SenderBot, models.SenderAdmin:
			out = append(out, ChatMessage{Role: "model", Text: m.Content})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
