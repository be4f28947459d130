package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"ChatBridge/models"
	"ChatBridge/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequiresToken(t *testing.T) {
	app := newTestApp(t)
	w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "", map[string]any{"message": "hola"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestChatValidation(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	paused := app.conversation(t, userID)
	require.NoError(t, app.env.DB.Model(paused).Update("bot_paused", true).Error)
	foreign := app.conversation(t, otherID)

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing fields", map[string]any{"message": "hola"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"blocked content", map[string]any{"message": "descarga malware", "conversationId": conv.ID}, http.StatusUnprocessableEntity, "CONTENT_BLOCKED"},
		{"someone else's conversation", map[string]any{"message": "hola", "conversationId": foreign.ID}, http.StatusNotFound, "NOT_FOUND"},
		{"bot paused", map[string]any{"message": "hola", "conversationId": paused.ID}, http.StatusLocked, "BOT_PAUSED"},
		{"unknown provider", map[string]any{"message": "hola", "conversationId": conv.ID, "llmProvider": "gpt"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}

	var n int64
	require.NoError(t, app.env.DB.Model(&models.Message{}).Count(&n).Error)
	assert.Zero(t, n, "rejected requests must not store messages")
}

func TestChatNonStreaming(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)

	w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message":        "¿A qué hora abren?",
		"conversationId": conv.ID,
		"stream":         false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode[struct {
		Response  string `json:"response"`
		MessageID string `json:"message_id"`
		Provider  string `json:"provider"`
	}](t, env.Data)
	assert.Equal(t, "Abrimos a las 9.", out.Response)
	assert.Equal(t, services.ProviderMiniMax, out.Provider)

	var msgs []models.Message
	require.NoError(t, app.env.DB.Where("conversation_id = ?", conv.ID).Order("created_at").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, models.SenderBot, msgs[1].Sender)
	assert.Equal(t, out.MessageID, msgs[1].ID)
	assert.Equal(t, models.StatusSent, msgs[1].Status)

	req := app.provider.lastRequest()
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "¿A qué hora abren?", req.Messages[len(req.Messages)-1].Text)
	assert.Len(t, app.events(t, services.EventChatResponse), 1)
}

func TestChatStreamsFramesAndDone(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)

	w, _ := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message":        "horario",
		"conversationId": conv.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"))

	body := w.Body.String()
	assert.Contains(t, body, `"delta":"Abrimos "`)
	assert.Contains(t, body, `"delta":"9."`)
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	last := frames[len(frames)-1]
	assert.Contains(t, last, `"done":true`)
	assert.Contains(t, last, `"full_response":"Abrimos a las 9."`)
	assert.Contains(t, last, `"message_id"`)

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(last), "data:")), &done))
	assert.NotEmpty(t, done["message_id"])
	assert.Equal(t, done["message_id"], done["messageId"])
}

func TestChatStreamErrorIsStored(t *testing.T) {
	app := newTestApp(t)
	app.provider.err = errBackend
	app.provider.chunks = []string{"Abri"}
	conv := app.conversation(t, userID)

	w, _ := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message":        "hola",
		"conversationId": conv.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"`+replyFailed+`"`)
	assert.NotContains(t, w.Body.String(), "backend exploded")

	var bot models.Message
	require.NoError(t, app.env.DB.Where("conversation_id = ? AND sender = ?", conv.ID, models.SenderBot).Take(&bot).Error)
	assert.Equal(t, models.StatusError, bot.Status)
	assert.Equal(t, "Abri", bot.Content)
	assert.NotContains(t, bot.Metadata.String(), "backend exploded")
	assert.Empty(t, app.events(t, services.EventChatResponse))
}

func TestChatProviderFailureKeepsKeyPrivate(t *testing.T) {
	const key = "SECRET-GEMINI-KEY"
	app := newTestApp(t)
	app.env.Router = services.NewRouter(services.NewGeminiService(services.GeminiOptions{
		APIKey: key, BaseURL: "http://127.0.0.1:1", Model: "m", RetryDelay: time.Millisecond,
	}))
	conv := app.conversation(t, userID)

	w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message": "hola", "conversationId": conv.ID, "stream": false,
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CHAT_ERROR", env.Error.Code)
	assert.Equal(t, replyFailed, env.Error.Message)
	assert.NotContains(t, w.Body.String(), key)
	assert.NotContains(t, w.Body.String(), "127.0.0.1")

	w, _ = app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message": "¿siguen ahí?", "conversationId": conv.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"done":true`)
	assert.NotContains(t, w.Body.String(), key)
	assert.NotContains(t, w.Body.String(), "127.0.0.1")

	w, _ = app.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "user-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "generation_failed")
	assert.NotContains(t, w.Body.String(), key)
	assert.NotContains(t, w.Body.String(), "127.0.0.1")
}

func TestChatFallsBackToLocalReply(t *testing.T) {
	app := newTestApp(t)
	app.env.Router = services.NewRouter()
	conv := app.conversation(t, userID)

	w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message":        "hola",
		"conversationId": conv.ID,
		"stream":         false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[map[string]any](t, env.Data)
	assert.Equal(t, services.ProviderLocal, out["provider"])
	assert.Contains(t, out["response"], services.NoProviderReply)
}

func TestChatRejectsDuplicateMessage(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	body := map[string]any{"message": "¿hay envío gratis?", "conversationId": conv.ID, "stream": false}

	w, _ := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", body)
	require.Equal(t, http.StatusOK, w.Code)
	w, env := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestChatUsesHistoryAndRAG(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	require.NoError(t, app.env.DB.Create(&models.Message{ConversationID: conv.ID, Sender: models.SenderUser, Content: "primera pregunta"}).Error)
	require.NoError(t, app.env.DB.Create(&models.Message{ConversationID: conv.ID, Sender: models.SenderBot, Content: "primera respuesta"}).Error)

	_, err := app.env.ingestor().Ingest(context.Background(), services.IngestRequest{
		Data:     []byte("El horario de atención es de 9 a 18."),
		FileName: "horario.txt",
		Title:    "Horario",
		MimeType: "text/plain",
		IsPublic: true,
	})
	require.NoError(t, err)

	w, _ := app.do(t, http.MethodPost, "/functions/v1/chat", "user-token", map[string]any{
		"message":        "horario de atención",
		"conversationId": conv.ID,
		"useRag":         true,
		"stream":         false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req := app.provider.lastRequest()
	assert.Contains(t, req.System, "El horario de atención es de 9 a 18.")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "primera pregunta", req.Messages[0].Text)
	assert.Equal(t, "model", req.Messages[1].Role)
}
