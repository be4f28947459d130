package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"ChatBridge/models"
	"ChatBridge/pkg/database"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type SearchResult struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// SearchDocuments returns up to count chunks whose cosine similarity to
// embedding is above threshold, best first.
func SearchDocuments(ctx context.Context, db *gorm.DB, embedding []float32, threshold float64, count int) ([]SearchResult, error) {
	if count <= 0 {
		return nil, nil
	}
	if database.IsPostgres(db) {
		var out []SearchResult
		err := db.WithContext(ctx).
			Raw("SELECT id, title, content, similarity FROM search_documents(?, ?, ?)", pgvector.NewVector(embedding), threshold, count).
			Scan(&out).Error
		if err != nil {
			return nil, fmt.Errorf("search_documents: %w", err)
		}
		return out, nil
	}
	return scanDocuments(ctx, db, embedding, threshold, count)
}

// scanDocuments is the in-process equivalent of search_documents for
// databases without pgvector.
func scanDocuments(ctx context.Context, db *gorm.DB, embedding []float32, threshold float64, count int) ([]SearchResult, error) {
	var docs []models.Document
	if err := db.WithContext(ctx).Where("embedding IS NOT NULL").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	var out []SearchResult
	for _, d := range docs {
		if d.Embedding == nil {
			continue
		}
		sim := CosineSimilarity(embedding, d.Embedding.Slice())
		if sim > threshold {
			out = append(out, SearchResult{ID: d.ID, Title: d.Title, Content: d.Content, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
