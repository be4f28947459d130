package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/database"
	"ChatBridge/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const documentColumns = "id, title, content, mime_type, storage_path, file_size, chunk_index, total_chunks, metadata, tags, is_public, uploaded_by, created_at, updated_at"

var adminDocumentActions = map[string]bool{"update": true, "delete": true, "reindex": true}

// ManageDocuments serves the document corpus. The action comes from the
// query string and defaults to list.
func ManageDocuments(env *Env) gin.HandlerFunc {
	return apierr.Handle("DOCUMENT_MANAGEMENT_ERROR", func(c *gin.Context) error {
		action := c.DefaultQuery("action", "list")
		id := strings.TrimSpace(c.Query("id"))
		uid := middleware.CurrentUserID(c)

		admin, err := middleware.IsAdmin(c, env.DB)
		if err != nil {
			return fmt.Errorf("check role: %w", err)
		}
		if adminDocumentActions[action] && !admin {
			return apierr.Forbidden("Se requieren permisos de administrador")
		}
		if action != "list" && action != "stats" && id == "" {
			return apierr.BadRequest("Document ID required for " + action + " action")
		}

		var data any
		switch action {
		case "list":
			data, err = env.listDocuments(c, uid, admin)
		case "get":
			data, err = env.getDocument(c.Request.Context(), id, uid, admin)
		case "stats":
			data, err = env.documentStats(c.Request.Context(), uid, admin)
		case "update":
			data, err = env.updateDocument(c, id)
		case "delete":
			data, err = env.deleteDocument(c, id)
		case "reindex":
			data, err = env.reindexDocument(c, id)
		default:
			return apierr.BadRequest("Invalid action: " + action)
		}
		if err != nil {
			return err
		}
		apierr.OK(c, http.StatusOK, data)
		return nil
	})
}

// visibleDocuments scopes non-admin callers to public documents and their own.
func visibleDocuments(db *gorm.DB, uid string, admin bool) *gorm.DB {
	if admin {
		return db
	}
	return db.Where("(is_public = ? OR uploaded_by = ?)", true, uid)
}

// queryInt reads an integer query parameter clamped to [lo, hi].
func queryInt(c *gin.Context, key string, def, lo, hi int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return max(lo, min(hi, n))
}

func (e *Env) listDocuments(c *gin.Context, uid string, admin bool) (gin.H, error) {
	page := queryInt(c, "page", 1, 1, math.MaxInt32)
	limit := queryInt(c, "limit", 20, 1, 100)
	search := strings.TrimSpace(c.Query("search"))
	tag := strings.TrimSpace(c.Query("tag"))
	mimeType := strings.TrimSpace(c.Query("mime_type"))
	uploadedBy := strings.TrimSpace(c.Query("uploaded_by"))
	isPublicRaw, hasIsPublic := c.GetQuery("is_public")

	db := e.DB.WithContext(c.Request.Context())
	q := visibleDocuments(db.Model(&models.Document{}), uid, admin)
	if search != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	if tag != "" {
		if database.IsPostgres(e.DB) {
			q = q.Where("tags @> ?::jsonb", string(jsonColumn([]string{tag})))
		} else {
			q = q.Where("EXISTS (SELECT 1 FROM json_each(documents.tags) WHERE json_each.value = ?)", tag)
		}
	}
	if mimeType != "" {
		q = q.Where("mime_type = ?", mimeType)
	}
	var isPublic any
	if hasIsPublic {
		b, err := strconv.ParseBool(isPublicRaw)
		if err != nil {
			return nil, apierr.BadRequest("is_public must be true or false")
		}
		q = q.Where("is_public = ?", b)
		isPublic = b
	}
	if uploadedBy != "" {
		q = q.Where("uploaded_by = ?", uploadedBy)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	docs := []models.Document{}
	err := q.Select(documentColumns).
		Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return gin.H{
		"documents": docs,
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": int(math.Ceil(float64(total) / float64(limit))),
		},
		"filters": gin.H{
			"search":      search,
			"tag":         tag,
			"mime_type":   mimeType,
			"is_public":   isPublic,
			"uploaded_by": uploadedBy,
		},
	}, nil
}

func (e *Env) loadDocument(ctx context.Context, id, uid string, admin bool) (*models.Document, error) {
	var doc models.Document
	err := visibleDocuments(e.DB.WithContext(ctx), uid, admin).Where("id = ?", id).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("Documento no encontrado")
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

type documentWithChunks struct {
	models.Document
	AllChunks []models.Document `json:"all_chunks,omitempty"`
}

func (e *Env) getDocument(ctx context.Context, id, uid string, admin bool) (*documentWithChunks, error) {
	doc, err := e.loadDocument(ctx, id, uid, admin)
	if err != nil {
		return nil, err
	}
	out := &documentWithChunks{Document: *doc}
	if doc.TotalChunks <= 1 {
		return out, nil
	}

	q := e.DB.WithContext(ctx).Select(documentColumns).Order("chunk_index ASC")
	if doc.StoragePath != "" {
		q = q.Where("storage_path = ?", doc.StoragePath)
	} else {
		base, _, _ := strings.Cut(doc.Title, " (Parte ")
		q = q.Where("title LIKE ? AND total_chunks = ?", base+" (Parte %", doc.TotalChunks)
	}
	if err := q.Find(&out.AllChunks).Error; err != nil {
		log.Printf("[documents] load chunks of %s: %v", doc.ID, err)
	}
	return out, nil
}

func (e *Env) documentStats(ctx context.Context, uid string, admin bool) (gin.H, error) {
	type row struct {
		MimeType   string
		IsPublic   bool
		UploadedBy string
	}
	var rows []row
	err := visibleDocuments(e.DB.WithContext(ctx).Model(&models.Document{}), uid, admin).
		Select("mime_type, is_public, uploaded_by").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	mimes := map[string]int{}
	uploaders := map[string]int{}
	public := 0
	for _, r := range rows {
		mimes[r.MimeType]++
		uploaders[r.UploadedBy]++
		if r.IsPublic {
			public++
		}
	}
	return gin.H{
		"total_documents":        len(rows),
		"public_documents":       public,
		"private_documents":      len(rows) - public,
		"mime_type_distribution": mimes,
		"uploader_distribution":  uploaders,
		"generated_at":           time.Now().UTC(),
	}, nil
}

type documentUpdate struct {
	Title    *string         `json:"title"`
	Tags     *[]string       `json:"tags"`
	IsPublic *bool           `json:"is_public"`
	Metadata *map[string]any `json:"metadata"`
}

func (e *Env) updateDocument(c *gin.Context, id string) (*models.Document, error) {
	var req documentUpdate
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	doc, err := e.loadDocument(ctx, id, "", true)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	var fields []string
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, apierr.BadRequest("title cannot be empty")
		}
		updates["title"] = strings.TrimSpace(*req.Title)
		fields = append(fields, "title")
	}
	if req.Tags != nil {
		updates["tags"] = datatypes.JSONSlice[string](*req.Tags)
		fields = append(fields, "tags")
	}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
		fields = append(fields, "is_public")
	}
	if req.Metadata != nil {
		updates["metadata"] = jsonColumn(*req.Metadata)
		fields = append(fields, "metadata")
	}
	if len(updates) == 0 {
		return nil, apierr.BadRequest("No fields to update")
	}
	updates["updated_at"] = time.Now()

	if err := e.DB.WithContext(ctx).Model(doc).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	if err := e.DB.WithContext(ctx).Select(documentColumns).Take(doc, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("reload document: %w", err)
	}
	e.event(c, services.EventInput{
		Type:   services.EventDocumentUpdated,
		Source: models.SenderAdmin,
		Data:   map[string]any{"document_id": id, "updated_fields": fields},
	})
	return doc, nil
}

// deleteDocument removes one chunk row. The stored file goes with the last
// chunk that references it.
func (e *Env) deleteDocument(c *gin.Context, id string) (gin.H, error) {
	ctx := c.Request.Context()
	doc, err := e.loadDocument(ctx, id, "", true)
	if err != nil {
		return nil, err
	}

	hadFile := doc.StoragePath != ""
	if hadFile {
		var others int64
		err := e.DB.WithContext(ctx).Model(&models.Document{}).
			Where("storage_path = ? AND id <> ?", doc.StoragePath, doc.ID).
			Count(&others).Error
		switch {
		case err != nil:
			log.Printf("[documents] count siblings of %s: %v", doc.ID, err)
		case others == 0 && e.Storage != nil:
			if err := e.Storage.Delete(ctx, doc.StoragePath); err != nil {
				log.Printf("[documents] delete object %s: %v", doc.StoragePath, err)
			}
		}
	}

	if err := e.DB.WithContext(ctx).Delete(&models.Document{}, "id = ?", doc.ID).Error; err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	e.event(c, services.EventInput{
		Type:   services.EventDocumentDeleted,
		Source: models.SenderAdmin,
		Data: map[string]any{
			"document_id":      doc.ID,
			"title":            doc.Title,
			"had_storage_file": hadFile,
		},
	})
	return gin.H{"deleted": true, "document_id": doc.ID}, nil
}

func (e *Env) reindexDocument(c *gin.Context, id string) (*models.Document, error) {
	ctx := c.Request.Context()
	doc, err := e.loadDocument(ctx, id, "", true)
	if err != nil {
		return nil, err
	}
	if err := e.ingestor().Reindex(ctx, doc); err != nil {
		return nil, err
	}
	e.event(c, services.EventInput{
		Type:   services.EventDocumentReindexed,
		Source: models.SenderAdmin,
		Data:   map[string]any{"document_id": doc.ID, "title": doc.Title},
	})
	return doc, nil
}
