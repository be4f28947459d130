package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ChatBridge/middleware"
	"ChatBridge/models"
	"ChatBridge/pkg/apierr"
	"ChatBridge/pkg/services"
	utils "ChatBridge/pkg/utills"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type uploadRequest struct {
	FileData       string `json:"fileData"`
	FileName       string `json:"fileName"`
	MimeType       string `json:"mimeType"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func Upload(env *Env) gin.HandlerFunc {
	return apierr.Handle("UPLOAD_ERROR", func(c *gin.Context) error {
		var req uploadRequest
		if err := bindJSONWithin(c, &req, payloadBodyLimit(env.Cfg.MaxFileBytes())); err != nil {
			return err
		}
		if err := required(map[string]string{"fileData": req.FileData, "fileName": req.FileName, "mimeType": req.MimeType}); err != nil {
			return err
		}
		data, _, err := utils.DecodeBase64Payload(req.FileData)
		if err != nil {
			return apierr.BadRequest("fileData is not valid base64")
		}
		if err := services.ValidateFileUpload(req.FileName, req.MimeType, int64(len(data)), env.Cfg.MaxFileSizeMB); err != nil {
			return err
		}

		uid := middleware.CurrentUserID(c)
		ctx := c.Request.Context()
		if req.ConversationID != "" {
			if _, err := ownedConversation(ctx, env.DB, req.ConversationID, uid); err != nil {
				return err
			}
		}
		var msg *models.Message
		if req.MessageID != "" {
			if msg, err = ownedMessage(c, env, req.MessageID, uid); err != nil {
				return err
			}
		}

		objectPath := fmt.Sprintf("%s/%d_%s.%s", uid, time.Now().UnixMilli(), utils.RandomSuffix(6), utils.FileExtension(req.FileName, req.MimeType))
		obj, err := env.Storage.Put(ctx, objectPath, data, req.MimeType)
		if err != nil {
			return fmt.Errorf("store file: %w", err)
		}
		kind := models.AttachmentKind(req.MimeType)

		var attachmentID string
		if msg != nil {
			att := models.Attachment{
				MessageID:   msg.ID,
				Kind:        kind,
				StoragePath: obj.Path,
				PublicURL:   obj.PublicURL,
				MimeType:    req.MimeType,
				SizeBytes:   obj.Size,
				AltText:     strings.TrimSuffix(filepath.Base(req.FileName), filepath.Ext(req.FileName)),
			}
			if err := env.DB.WithContext(ctx).Create(&att).Error; err != nil {
				return fmt.Errorf("save attachment: %w", err)
			}
			attachmentID = att.ID
		}

		convID := req.ConversationID
		if convID == "" && msg != nil {
			convID = msg.ConversationID
		}
		env.event(c, services.EventInput{
			Type:           services.EventFileUploaded,
			Source:         models.SenderUser,
			ConversationID: convID,
			Data: map[string]any{
				"file_name":     req.FileName,
				"storage_path":  obj.Path,
				"mime_type":     req.MimeType,
				"file_size":     obj.Size,
				"attachment_id": attachmentID,
			},
		})
		apierr.OK(c, http.StatusOK, gin.H{
			"public_url":    obj.PublicURL,
			"storage_path":  obj.Path,
			"attachment_id": attachmentID,
			"file_size":     obj.Size,
			"mime_type":     req.MimeType,
			"kind":          kind,
		})
		return nil
	})
}

// ownedMessage loads a message that lives in one of userID's conversations.
func ownedMessage(c *gin.Context, env *Env, messageID, userID string) (*models.Message, error) {
	var msg models.Message
	err := env.DB.WithContext(c.Request.Context()).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("messages.id = ? AND conversations.user_id = ?", messageID, userID).
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("Mensaje no encontrado")
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	return &msg, nil
}

type uploadDocumentRequest struct {
	FileData     string         `json:"fileData"`
	FileName     string         `json:"fileName"`
	Title        string         `json:"title"`
	MimeType     string         `json:"mimeType"`
	Tags         []string       `json:"tags"`
	IsPublic     *bool          `json:"isPublic"`
	Metadata     map[string]any `json:"metadata"`
	ChunkSize    int            `json:"chunkSize"`
	ChunkOverlap *int           `json:"chunkOverlap"`
}

func UploadDocument(env *Env) gin.HandlerFunc {
	return apierr.Handle("DOCUMENT_UPLOAD_ERROR", func(c *gin.Context) error {
		var req uploadDocumentRequest
		if err := bindJSONWithin(c, &req, payloadBodyLimit(env.Cfg.MaxUploadBytes())); err != nil {
			return err
		}
		if err := required(map[string]string{"fileData": req.FileData, "fileName": req.FileName, "title": req.Title}); err != nil {
			return err
		}
		if req.MimeType == "" {
			req.MimeType = "text/plain"
		}
		if !services.IsDocumentType(req.MimeType) {
			return apierr.Unsupported("Tipo de documento no soportado: " + req.MimeType)
		}
		data, _, err := decodePayload("fileData", req.FileData, env.Cfg.MaxUploadBytes(), env.Cfg.MaxUploadSizeMB)
		if err != nil {
			return err
		}
		overlap := services.DefaultChunkOverlap
		if req.ChunkOverlap != nil {
			overlap = *req.ChunkOverlap
		}
		chunkSize := req.ChunkSize
		if chunkSize == 0 {
			chunkSize = services.DefaultChunkSize
		}
		if err := services.ValidateChunking(chunkSize, overlap); err != nil {
			return apierr.BadRequest("chunkSize must be at least 100 and chunkOverlap between 0 and chunkSize")
		}
		isPublic := req.IsPublic != nil && *req.IsPublic

		start := time.Now()
		res, err := env.ingestor().Ingest(c.Request.Context(), services.IngestRequest{
			Data:         data,
			FileName:     req.FileName,
			Title:        strings.TrimSpace(req.Title),
			MimeType:     req.MimeType,
			Tags:         req.Tags,
			IsPublic:     isPublic,
			Metadata:     req.Metadata,
			ChunkSize:    chunkSize,
			ChunkOverlap: overlap,
			UploadedBy:   middleware.CurrentUserID(c),
		})
		if err != nil {
			return err
		}
		elapsed := sinceMS(start)

		env.event(c, services.EventInput{
			Type:   services.EventDocumentUploaded,
			Source: models.SenderAdmin,
			Data: map[string]any{
				"title":           res.Title,
				"file_name":       res.FileName,
				"chunks_created":  res.ChunksCreated,
				"chunks_skipped":  res.ChunksSkipped,
				"text_length":     res.TextLength,
				"processing_time": elapsed,
			},
		})
		apierr.OK(c, http.StatusOK, gin.H{
			"title":           res.Title,
			"filename":        res.FileName,
			"chunks_created":  res.ChunksCreated,
			"document_ids":    res.DocumentIDs,
			"storage_path":    res.StoragePath,
			"processing_time": elapsed,
			"text_length":     res.TextLength,
			"is_public":       res.IsPublic,
		})
		return nil
	})
}
