package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/config"
	"ChatBridge/pkg/database"
	"ChatBridge/pkg/notify"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	adminID = "11111111-1111-1111-1111-111111111111"
	userID  = "22222222-2222-2222-2222-222222222222"
	otherID = "33333333-3333-3333-3333-333333333333"
)

type stubAuth map[string]string

func (s stubAuth) Authenticate(_ context.Context, token string) (*services.AuthUser, error) {
	id, ok := s[token]
	if !ok {
		return nil, services.ErrInvalidToken
	}
	return &services.AuthUser{ID: id}, nil
}

type fakeProvider struct {
	name       string
	reply      string
	chunks     []string
	err        error
	transcript string
	analysis   string

	mu   sync.Mutex
	last services.GenerateRequest
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Enabled() bool { return true }

func (f *fakeProvider) Generate(_ context.Context, req services.GenerateRequest) (string, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeProvider) Stream(_ context.Context, req services.GenerateRequest, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	var sb strings.Builder
	for _, ch := range f.chunks {
		onDelta(ch)
		sb.WriteString(ch)
	}
	return sb.String(), f.err
}

func (f *fakeProvider) Transcribe(context.Context, []byte, string) (string, error) {
	return f.transcript, f.err
}

func (f *fakeProvider) AnalyzeImage(context.Context, services.ImageInput, string) (string, error) {
	return f.analysis, f.err
}

func (f *fakeProvider) lastRequest() services.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// keywordEmbedder gives predictable vectors: one axis per marker word.
type keywordEmbedder struct{}

func (keywordEmbedder) Enabled() bool { return true }

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := []float32{0.01, 0.01, 0.01}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		switch {
		case strings.HasPrefix(w, "horario"):
			v[0]++
		case strings.HasPrefix(w, "precio"):
			v[1]++
		case strings.HasPrefix(w, "envío"):
			v[2]++
		}
	}
	return v, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Publish(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingNotifier) published() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string, string) (bool, error) { return true, nil }

type testApp struct {
	env      *Env
	engine   *gin.Engine
	provider *fakeProvider
	notes    *recordingNotifier
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "development",
		MaxFileSizeMB:      1,
		MaxUploadSizeMB:    2,
		HistoryLimit:       20,
		PromptHistoryLimit: 10,
		RAGMatchThreshold:  0.5,
		RAGMatchCount:      3,
	}
}

// newTestApp wires handlers the way the routes package does, on an
// in-memory database with fake backends.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.OpenMemory(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Profile{ID: adminID, Role: models.RoleAdmin}).Error)
	require.NoError(t, db.Create(&models.Profile{ID: userID, Role: "user"}).Error)
	require.NoError(t, db.Create(&models.Profile{ID: otherID, Role: "user"}).Error)

	store, err := services.NewLocalStorage(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	p := &fakeProvider{
		name:       services.ProviderMiniMax,
		reply:      "Abrimos a las 9.",
		chunks:     []string{"Abrimos ", "a las ", "9."},
		transcript: "hola mundo",
		analysis:   "Una foto de un gato",
	}
	notes := &recordingNotifier{}
	env := &Env{
		DB:       db,
		Cfg:      testConfig(),
		Router:   services.NewRouter(p),
		Embedder: keywordEmbedder{},
		Storage:  store,
		Auth:     stubAuth{"admin-token": adminID, "user-token": userID, "other-token": otherID},
		Limiter:  allowAll{},
		Notifier: notes,
	}

	r := gin.New()
	fn := r.Group("/functions/v1", middleware.AuthMiddleware(env.Auth))
	admin := middleware.RequireAdmin(db)
	fn.POST("/chat", Chat(env))
	fn.POST("/transcribe", Transcribe(env))
	fn.POST("/vision", Vision(env))
	fn.POST("/rag-search", RAGSearch(env))
	fn.POST("/upload", Upload(env))
	fn.POST("/enhance", admin, Enhance(env))
	fn.POST("/upload-document", admin, UploadDocument(env))
	fn.POST("/takeover", admin, Takeover(env))
	fn.Any("/manage-documents", ManageDocuments(env))

	api := r.Group("/api", middleware.AuthMiddleware(env.Auth))
	api.GET("/conversations", ListConversations(env))
	api.POST("/conversations", CreateConversation(env))
	api.GET("/conversations/:conversation_id/messages", GetMessages(env))
	api.PATCH("/conversations/:conversation_id", UpdateConversationStatus(env))
	api.DELETE("/conversations/:conversation_id", DeleteConversation(env))
	adm := api.Group("/admin", admin)
	adm.GET("/dashboard", AdminDashboard(env))
	adm.GET("/analytics", AdminAnalytics(env))
	adm.GET("/conversations", AdminListConversations(env))
	adm.GET("/conversations/:conversation_id/messages", AdminConversationMessages(env))
	adm.POST("/conversations/:conversation_id/messages", AdminSendMessage(env))

	r.GET("/ws/chat", middleware.AuthMiddleware(env.Auth), ChatWS(env))

	return &testApp{env: env, engine: r, provider: p, notes: notes}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (a *testApp) conversation(t *testing.T, owner string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{UserID: owner, Title: "Soporte"}
	require.NoError(t, a.env.DB.Create(conv).Error)
	return conv
}

func (a *testApp) events(t *testing.T, eventType string) []models.Event {
	t.Helper()
	var out []models.Event
	require.NoError(t, a.env.DB.Where("event_type = ?", eventType).Order("created_at").Find(&out).Error)
	return out
}

var errBackend = errors.New("backend exploded")
