package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	utils "ChatBridge/pkg/utills"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IngestRequest struct {
	Data         []byte
	FileName     string
	Title        string
	MimeType     string
	Tags         []string
	IsPublic     bool
	Metadata     map[string]any
	ChunkSize    int
	ChunkOverlap int
	UploadedBy   string
}

type IngestResult struct {
	Title         string   `json:"title"`
	FileName      string   `json:"filename"`
	ChunksCreated int      `json:"chunks_created"`
	ChunksSkipped int      `json:"chunks_skipped"`
	DocumentIDs   []string `json:"document_ids"`
	StoragePath   string   `json:"storage_path"`
	TextLength    int      `json:"text_length"`
	IsPublic      bool     `json:"is_public"`
}

// Ingestor extracts, chunks, embeds and stores documents.
type Ingestor struct {
	DB       *gorm.DB
	Embedder Embedder
	Storage  Storage
}

func (in *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if in.Embedder == nil || !in.Embedder.Enabled() {
		return nil, apierr.Unavailable("embeddings are not configured", ErrEmbeddingsDisabled)
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = DefaultChunkSize
	}
	if req.ChunkOverlap < 0 {
		req.ChunkOverlap = DefaultChunkOverlap
	}

	text, err := ExtractText(req.Data, req.MimeType, req.FileName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apierr.BadRequest("el documento no contiene texto")
	}

	storagePath := ""
	if in.Storage != nil {
		owner := req.UploadedBy
		if owner == "" {
			owner = "system"
		}
		p := fmt.Sprintf("documents/%s/%d_%s.%s", owner, time.Now().UnixMilli(), utils.RandomSuffix(6), utils.FileExtension(req.FileName, req.MimeType))
		if obj, err := in.Storage.Put(ctx, p, req.Data, req.MimeType); err != nil {
			log.Printf("[ingest] storing original %q failed: %v", req.FileName, err)
		} else {
			storagePath = obj.Path
		}
	}

	chunks := SplitIntoChunks(text, req.ChunkSize, req.ChunkOverlap)
	res := &IngestResult{
		Title:       req.Title,
		FileName:    req.FileName,
		StoragePath: storagePath,
		TextLength:  len(text),
		IsPublic:    req.IsPublic,
		DocumentIDs: []string{},
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	for _, ch := range chunks {
		content := ch.Text()
		vec, err := in.Embedder.Embed(ctx, content)
		if err != nil {
			log.Printf("[ingest] embedding chunk %d/%d of %q failed: %v", ch.Index+1, len(chunks), req.Title, err)
			res.ChunksSkipped++
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		title := req.Title
		if len(chunks) > 1 {
			title = fmt.Sprintf("%s (Parte %d/%d)", req.Title, ch.Index+1, len(chunks))
		}
		meta, err := chunkMetadata(req, ch, len(chunks))
		if err != nil {
			return nil, err
		}
		v := pgvector.NewVector(vec)
		doc := models.Document{
			Title:       title,
			Content:     content,
			MimeType:    req.MimeType,
			StoragePath: storagePath,
			FileSize:    int64(len(req.Data)),
			ChunkIndex:  ch.Index,
			TotalChunks: len(chunks),
			Embedding:   &v,
			Metadata:    meta,
			Tags:        datatypes.NewJSONSlice(tags),
			IsPublic:    req.IsPublic,
			UploadedBy:  req.UploadedBy,
		}
		if err := in.DB.WithContext(ctx).Create(&doc).Error; err != nil {
			return nil, fmt.Errorf("save chunk %d: %w", ch.Index, err)
		}
		res.DocumentIDs = append(res.DocumentIDs, doc.ID)
	}
	res.ChunksCreated = len(res.DocumentIDs)
	if res.ChunksCreated == 0 {
		return nil, fmt.Errorf("no chunk of %q could be embedded", req.Title)
	}
	log.Printf("[ingest] %q stored as %d chunks (%d skipped)", req.Title, res.ChunksCreated, res.ChunksSkipped)
	return res, nil
}

func chunkMetadata(req IngestRequest, ch Chunk, total int) (datatypes.JSON, error) {
	meta := map[string]any{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["chunk_info"] = map[string]any{
		"chunk_index":   ch.Index,
		"total_chunks":  total,
		"word_count":    len(ch.Words),
		"overlap_words": ch.Overlap,
	}
	meta["processing_info"] = map[string]any{
		"original_filename": req.FileName,
		"chunk_size":        req.ChunkSize,
		"chunk_overlap":     req.ChunkOverlap,
		"processed_at":      time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(b), nil
}

// Reindex recomputes the embedding of one stored chunk.
func (in *Ingestor) Reindex(ctx context.Context, doc *models.Document) error {
	if in.Embedder == nil || !in.Embedder.Enabled() {
		return apierr.Unavailable("embeddings are not configured", ErrEmbeddingsDisabled)
	}
	vec, err := in.Embedder.Embed(ctx, doc.Content)
	if err != nil {
		return apierr.Unavailable("no se pudo generar el embedding", err)
	}
	v := pgvector.NewVector(vec)
	doc.Embedding = &v
	return in.DB.WithContext(ctx).Model(doc).Updates(map[string]any{
		"embedding":  &v,
		"updated_at": time.Now(),
	}).Error
}
