package controllers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"ChatBridge/models"
	"ChatBridge/pkg/notify"
	"ChatBridge/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation(t *testing.T) {
	app := newTestApp(t)

	w, env := app.do(t, http.MethodPost, "/api/conversations", "user-token", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := decode[models.Conversation](t, env.Data)
	assert.Equal(t, DefaultConversationTitle, conv.Title)
	assert.Equal(t, userID, conv.UserID)
	assert.Equal(t, models.ConversationActive, conv.Status)
	assert.False(t, conv.BotPaused)

	w, env = app.do(t, http.MethodPost, "/api/conversations", "user-token", map[string]any{"title": strings.Repeat("ñ", 250)})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, []rune(decode[models.Conversation](t, env.Data).Title), 200)
}

func TestListConversationsOwnOnly(t *testing.T) {
	app := newTestApp(t)
	first := app.conversation(t, userID)
	second := app.conversation(t, userID)
	app.conversation(t, otherID)
	require.NoError(t, app.env.DB.Model(first).Update("updated_at", time.Now().Add(time.Hour)).Error)

	w, env := app.do(t, http.MethodGet, "/api/conversations", "user-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	convs := decode[[]models.Conversation](t, env.Data)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)

	_, env = app.do(t, http.MethodGet, "/api/conversations?limit=1", "user-token", nil)
	assert.Len(t, decode[[]models.Conversation](t, env.Data), 1)
}

func TestGetMessages(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	base := time.Now().Add(-time.Minute)
	for i, text := range []string{"hola", "¿en qué puedo ayudarte?", "precio"} {
		sender := models.SenderUser
		if i%2 == 1 {
			sender = models.SenderBot
		}
		msg := models.Message{ConversationID: conv.ID, Sender: sender, Content: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, app.env.DB.Create(&msg).Error)
		if i == 0 {
			require.NoError(t, app.env.DB.Create(&models.Attachment{MessageID: msg.ID, Kind: models.MessageImage, MimeType: "image/png"}).Error)
		}
	}

	w, env := app.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "user-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.Message](t, env.Data)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hola", msgs[0].Content)
	assert.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "precio", msgs[2].Content)

	w, _ = app.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "other-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateConversationStatus(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	path := "/api/conversations/" + conv.ID

	w, env := app.do(t, http.MethodPatch, path, "user-token", map[string]any{"status": "closed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ConversationClosed, decode[models.Conversation](t, env.Data).Status)

	w, env = app.do(t, http.MethodPatch, path, "user-token", map[string]any{"status": "deleted"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, _ = app.do(t, http.MethodPatch, path, "other-token", map[string]any{"status": "archived"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteConversation(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	msg := models.Message{ConversationID: conv.ID, Sender: models.SenderUser, Content: "hola"}
	require.NoError(t, app.env.DB.Create(&msg).Error)
	require.NoError(t, app.env.DB.Create(&models.Attachment{MessageID: msg.ID, Kind: models.MessageFile}).Error)
	require.NoError(t, app.env.DB.Create(&models.Takeover{ConversationID: conv.ID, AdminID: adminID}).Error)

	w, _ := app.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "other-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = app.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "user-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	for _, m := range []any{&models.Conversation{}, &models.Message{}, &models.Attachment{}, &models.Takeover{}} {
		var n int64
		require.NoError(t, app.env.DB.Model(m).Count(&n).Error)
		assert.Zero(t, n, "%T", m)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	app := newTestApp(t)
	for _, p := range []string{"/api/admin/dashboard", "/api/admin/analytics", "/api/admin/conversations"} {
		w, env := app.do(t, http.MethodGet, p, "user-token", nil)
		assert.Equal(t, http.StatusForbidden, w.Code, p)
		require.NotNil(t, env.Error)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	}
}

func TestAdminListConversations(t *testing.T) {
	app := newTestApp(t)
	busy := app.conversation(t, userID)
	quiet := app.conversation(t, otherID)
	require.NoError(t, app.env.DB.Model(quiet).Updates(map[string]any{"title": "Reclamo envío", "bot_paused": true}).Error)
	for i := 0; i < 3; i++ {
		require.NoError(t, app.env.DB.Create(&models.Message{ConversationID: busy.ID, Sender: models.SenderUser, Content: "x"}).Error)
	}

	type listing struct {
		Conversations []conversationSummary `json:"conversations"`
		Pagination    struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	w, env := app.do(t, http.MethodGet, "/api/admin/conversations", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[listing](t, env.Data)
	require.Len(t, out.Conversations, 2)
	counts := map[string]int64{}
	for _, c := range out.Conversations {
		counts[c.ID] = c.MessageCount
	}
	assert.Equal(t, map[string]int64{busy.ID: 3, quiet.ID: 0}, counts)

	_, env = app.do(t, http.MethodGet, "/api/admin/conversations?search=reclamo", "admin-token", nil)
	out = decode[listing](t, env.Data)
	require.Len(t, out.Conversations, 1)
	assert.Equal(t, quiet.ID, out.Conversations[0].ID)

	_, env = app.do(t, http.MethodGet, "/api/admin/conversations?paused=false", "admin-token", nil)
	out = decode[listing](t, env.Data)
	require.Len(t, out.Conversations, 1)
	assert.Equal(t, busy.ID, out.Conversations[0].ID)

	w, _ = app.do(t, http.MethodGet, "/api/admin/conversations?status=gone", "admin-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminConversationMessages(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	require.NoError(t, app.env.DB.Create(&models.Message{ConversationID: conv.ID, Sender: models.SenderUser, Content: "hola"}).Error)

	w, env := app.do(t, http.MethodGet, "/api/admin/conversations/"+conv.ID+"/messages", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[struct {
		Conversation models.Conversation `json:"conversation"`
		Messages     []models.Message    `json:"messages"`
	}](t, env.Data)
	assert.Equal(t, conv.ID, out.Conversation.ID)
	assert.Len(t, out.Messages, 1)
}

func TestAdminSendMessageWithDraft(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	draft := models.AdminDraft{ConversationID: &conv.ID, OriginalText: "ok", DraftText: "Con gusto le ayudamos.", CreatedBy: adminID}
	require.NoError(t, app.env.DB.Create(&draft).Error)
	path := "/api/admin/conversations/" + conv.ID + "/messages"

	w, env := app.do(t, http.MethodPost, path, "admin-token", map[string]any{"draft_id": draft.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := decode[models.Message](t, env.Data)
	assert.Equal(t, "Con gusto le ayudamos.", msg.Content)
	assert.Equal(t, models.SenderAdmin, msg.Sender)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, adminID, *msg.SenderID)

	require.NoError(t, app.env.DB.Take(&draft, "id = ?", draft.ID).Error)
	assert.Equal(t, models.StatusSent, draft.Status)

	// a sent draft cannot be reused
	w, _ = app.do(t, http.MethodPost, path, "admin-token", map[string]any{"draft_id": draft.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = app.do(t, http.MethodPost, path, "admin-token", map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	msgs := app.notes.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.AdminMessage, msgs[0].Type)
	assert.Equal(t, msg.ID, msgs[0].Payload["message_id"])
}

func TestAdminSendMessageDraftBelongsToConversation(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	elsewhere := app.conversation(t, otherID)
	draft := models.AdminDraft{ConversationID: &conv.ID, OriginalText: "ok", DraftText: "Respuesta para otro cliente.", CreatedBy: adminID}
	loose := models.AdminDraft{OriginalText: "ok", DraftText: "Texto general.", CreatedBy: adminID}
	require.NoError(t, app.env.DB.Create(&draft).Error)
	require.NoError(t, app.env.DB.Create(&loose).Error)
	path := "/api/admin/conversations/" + elsewhere.ID + "/messages"

	w, env := app.do(t, http.MethodPost, path, "admin-token", map[string]any{"draft_id": draft.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	require.NoError(t, app.env.DB.Take(&draft, "id = ?", draft.ID).Error)
	assert.Equal(t, models.StatusPending, draft.Status)

	w, env = app.do(t, http.MethodPost, path, "admin-token", map[string]any{"draft_id": loose.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Texto general.", decode[models.Message](t, env.Data).Content)
}

func TestAdminDashboard(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	require.NoError(t, app.env.DB.Create(&models.Message{ConversationID: conv.ID, Sender: models.SenderUser, Content: "hola"}).Error)
	require.NoError(t, app.env.DB.Create(&models.Takeover{ConversationID: conv.ID, AdminID: adminID, Active: true}).Error)
	require.NoError(t, services.RecordEvent(context.Background(), app.env.DB, services.EventInput{Type: services.EventChatResponse, Source: models.SenderBot}))

	w, env := app.do(t, http.MethodGet, "/api/admin/dashboard", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[struct {
		Conversations int64          `json:"total_conversations"`
		Messages      int64          `json:"total_messages"`
		Documents     int64          `json:"total_documents"`
		Takeovers     int64          `json:"active_takeovers"`
		Events        []models.Event `json:"recent_events"`
	}](t, env.Data)
	assert.EqualValues(t, 1, out.Conversations)
	assert.EqualValues(t, 1, out.Messages)
	assert.Zero(t, out.Documents)
	assert.EqualValues(t, 1, out.Takeovers)
	require.Len(t, out.Events, 1)
	assert.Equal(t, services.EventChatResponse, out.Events[0].EventType)
}

func TestAdminAnalytics(t *testing.T) {
	app := newTestApp(t)
	conv := app.conversation(t, userID)
	for _, m := range []models.Message{
		{Sender: models.SenderBot, LLMProvider: services.ProviderMiniMax, ProcessingTimeMS: 100, TokensEstimated: 10},
		{Sender: models.SenderBot, LLMProvider: services.ProviderMiniMax, ProcessingTimeMS: 200, TokensEstimated: 20},
		{Sender: models.SenderBot, LLMProvider: services.ProviderGemini, ProcessingTimeMS: 301, TokensEstimated: 5},
		{Sender: models.SenderUser, Content: "no cuenta"},
	} {
		m.ConversationID = conv.ID
		require.NoError(t, app.env.DB.Create(&m).Error)
	}

	w, env := app.do(t, http.MethodGet, "/api/admin/analytics", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[struct {
		Replies int64              `json:"total_replies"`
		Share   map[string]float64 `json:"provider_share"`
		AvgTime int64              `json:"avg_processing_time"`
		Tokens  int64              `json:"total_tokens"`
	}](t, env.Data)
	assert.EqualValues(t, 3, out.Replies)
	assert.Equal(t, map[string]float64{services.ProviderMiniMax: 66.7, services.ProviderGemini: 33.3}, out.Share)
	assert.EqualValues(t, 200, out.AvgTime)
	assert.EqualValues(t, 35, out.Tokens)
}
