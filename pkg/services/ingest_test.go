package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ChatBridge/models"
	"ChatBridge/pkg/cache"
	"ChatBridge/pkg/database"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// keywordEmbedder maps text to a 3-d vector by counting marker words, so
// similarity is predictable.
type keywordEmbedder struct {
	fail string
}

func (keywordEmbedder) Enabled() bool { return true }

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if k.fail != "" && strings.Contains(text, k.fail) {
		return nil, errors.New("embedding backend down")
	}
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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	return db
}

func TestIngestStoresChunksWithEmbeddings(t *testing.T) {
	db := newTestDB(t)
	store, err := NewLocalStorage(t.TempDir(), "http://x")
	require.NoError(t, err)
	in := &Ingestor{DB: db, Embedder: keywordEmbedder{}, Storage: store}

	text := strings.Repeat("horario de apertura ", 30) + strings.Repeat("precio del servicio ", 30)
	res, err := in.Ingest(context.Background(), IngestRequest{
		Data:         []byte(text),
		FileName:     "faq.txt",
		Title:        "FAQ",
		MimeType:     "text/plain",
		Tags:         []string{"faq"},
		IsPublic:     true,
		Metadata:     map[string]any{"origen": "test"},
		ChunkSize:    200,
		ChunkOverlap: 40,
		UploadedBy:   "11111111-1111-1111-1111-111111111111",
	})
	require.NoError(t, err)
	require.Greater(t, res.ChunksCreated, 1)
	assert.Len(t, res.DocumentIDs, res.ChunksCreated)
	assert.True(t, strings.HasPrefix(res.StoragePath, "documents/11111111-1111-1111-1111-111111111111/"))
	assert.True(t, strings.HasSuffix(res.StoragePath, ".txt"))

	var docs []models.Document
	require.NoError(t, db.Order("chunk_index").Find(&docs).Error)
	require.Len(t, docs, res.ChunksCreated)
	assert.Equal(t, fmt.Sprintf("FAQ (Parte 1/%d)", len(docs)), docs[0].Title)
	assert.Equal(t, []string{"faq"}, []string(docs[0].Tags))
	require.NotNil(t, docs[0].Embedding)
	assert.Len(t, docs[0].Embedding.Slice(), 3)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(docs[1].Metadata, &meta))
	assert.Equal(t, "test", meta["origen"])
	info := meta["chunk_info"].(map[string]any)
	assert.EqualValues(t, 1, info["chunk_index"])
	assert.Greater(t, info["overlap_words"].(float64), 0.0)

	chunks := make([]Chunk, 0, len(docs))
	for _, d := range docs {
		ci := map[string]any{}
		require.NoError(t, json.Unmarshal(d.Metadata, &ci))
		ov := int(ci["chunk_info"].(map[string]any)["overlap_words"].(float64))
		chunks = append(chunks, Chunk{Index: d.ChunkIndex, Words: strings.Fields(d.Content), Overlap: ov})
	}
	assert.Equal(t, strings.Join(strings.Fields(text), " "), JoinChunks(chunks))
}

func TestIngestSkipsChunksThatFailToEmbed(t *testing.T) {
	db := newTestDB(t)
	in := &Ingestor{DB: db, Embedder: keywordEmbedder{fail: "roto"}}

	text := strings.Repeat("bien ", 50) + strings.Repeat("roto ", 50) + strings.Repeat("final ", 50)
	res, err := in.Ingest(context.Background(), IngestRequest{
		Data: []byte(text), FileName: "a.txt", Title: "A", MimeType: "text/plain",
		ChunkSize: 250, ChunkOverlap: 0,
	})
	require.NoError(t, err)
	assert.Positive(t, res.ChunksSkipped)
	assert.Equal(t, res.ChunksCreated, len(res.DocumentIDs))
	assert.Empty(t, res.StoragePath)
}

func TestIngestRejectsEmptyDocument(t *testing.T) {
	in := &Ingestor{DB: newTestDB(t), Embedder: keywordEmbedder{}}
	_, err := in.Ingest(context.Background(), IngestRequest{Data: []byte("   \n "), Title: "x", MimeType: "text/plain"})
	require.Error(t, err)
}

func TestIngestRequiresEmbeddings(t *testing.T) {
	in := &Ingestor{DB: newTestDB(t), Embedder: NewOpenAIEmbedder(OpenAIOptions{})}
	_, err := in.Ingest(context.Background(), IngestRequest{Data: []byte("hola"), Title: "x", MimeType: "text/plain"})
	assert.ErrorIs(t, err, ErrEmbeddingsDisabled)
}

func TestSearchDocumentsRanksBySimilarity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	add := func(title string, vec []float32) {
		v := pgvector.NewVector(vec)
		require.NoError(t, db.Create(&models.Document{Title: title, Content: title, Embedding: &v}).Error)
	}
	add("horarios", []float32{1, 0, 0})
	add("precios", []float32{0, 1, 0})
	add("mixto", []float32{1, 1, 0})
	require.NoError(t, db.Create(&models.Document{Title: "sin vector", Content: "x"}).Error)

	res, err := SearchDocuments(ctx, db, []float32{1, 0.1, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "horarios", res[0].Title)
	assert.Equal(t, "mixto", res[1].Title)
	assert.Greater(t, res[0].Similarity, res[1].Similarity)

	res, err = SearchDocuments(ctx, db, []float32{1, 0.1, 0}, 0.5, 1)
	require.NoError(t, err)
	assert.Len(t, res, 1)

	res, err = SearchDocuments(ctx, db, []float32{1, 0, 0}, 0.5, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestReindexUpdatesEmbedding(t *testing.T) {
	db := newTestDB(t)
	doc := models.Document{Title: "t", Content: "horario horario"}
	require.NoError(t, db.Create(&doc).Error)

	in := &Ingestor{DB: db, Embedder: keywordEmbedder{}}
	require.NoError(t, in.Reindex(context.Background(), &doc))

	var got models.Document
	require.NoError(t, db.First(&got, "id = ?", doc.ID).Error)
	require.NotNil(t, got.Embedding)
	assert.InDelta(t, 2.01, got.Embedding.Slice()[0], 0.0001)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestOpenAIEmbedderCaches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer ok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-ada-002", body["model"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{APIKey: "ok", BaseURL: srv.URL, Cache: cache.New[[]float32](10), CacheTTL: time.Minute})
	for i := 0; i < 2; i++ {
		v, err := e.Embed(context.Background(), "  hola  ")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	_, err := e.Embed(context.Background(), "   ")
	require.Error(t, err)
}
