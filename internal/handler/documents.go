package handlers

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"EchoCast/internal/models"
	"EchoCast/pkg/errors"
	"EchoCast/pkg/llm"
	"EchoCast/pkg/logger"
	"EchoCast/pkg/middleware"
	"EchoCast/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProcessDocumentRequest 文档入库请求
type ProcessDocumentRequest struct {
	StoragePath    string `json:"storagePath" binding:"required"`
	OriginalName   string `json:"originalName" binding:"required"`
	SteeringPrompt string `json:"steeringPrompt"`
}

// ProcessDocument 文档入库：下载 → 上传服务商 → 轮询就绪 → 落库 → 入队。
// 任何一步失败都会清理前序步骤产生的远端文件
func (h *Handlers) ProcessDocument(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeUnauthenticated),
			errors.CodeUnauthenticated, "user identity required", "", nil)
		return
	}

	var req ProcessDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeInvalidRequest),
			errors.CodeInvalidRequest, "storagePath and originalName are required", err.Error(), nil)
		return
	}

	ctx := c.Request.Context()
	log := logger.L().With(
		zap.String("userId", userID),
		zap.String("storagePath", req.StoragePath),
	)
	log.Info("processing document", zap.String("originalName", req.OriginalName))

	// 1. 从对象存储取文件内容
	data, err := h.store.Download(ctx, req.StoragePath)
	if err != nil {
		log.Error("failed to download document from storage", zap.Error(err))
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeStorageRead),
			errors.CodeStorageRead, "failed to read document from storage", err.Error(), nil)
		return
	}

	// 2. 上传到生成服务商
	mimeType := detectMimeType(req.OriginalName)
	file, err := h.provider.UploadFile(ctx, data, req.OriginalName, mimeType)
	if err != nil || file == nil || file.ID == "" {
		if err == nil {
			err = errors.WithCode(errors.CodeProviderUpload, "provider returned no file handle")
		}
		log.Error("failed to upload document to provider", zap.Error(err))
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeProviderUpload),
			errors.CodeProviderUpload, "failed to upload document to AI provider", err.Error(), nil)
		return
	}
	log = log.With(zap.String("providerFileId", file.ID))

	// 3. 轮询直到服务商侧处理完成
	file, err = h.waitForActive(ctx, file)
	if err != nil {
		log.Error("provider file did not become active", zap.Error(err))
		h.deleteProviderFile(ctx, log, file.ID)
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeProviderProcessingFailed),
			errors.CodeProviderProcessingFailed, "AI provider failed to process the document", err.Error(), nil)
		return
	}

	// 4. 落库文档元数据。失败则回收远端文件，避免孤儿
	doc, err := models.CreateDocument(h.db, &models.Document{
		UserID:            userID,
		OriginalName:      req.OriginalName,
		StoragePath:       req.StoragePath,
		ProviderFileID:    file.ID,
		ProviderFileURI:   file.URI,
		ProviderFileState: string(file.State),
		MimeType:          file.MimeType,
		Status:            models.DocStatusAwaitingScript,
	})
	if err != nil {
		log.Error("failed to persist document metadata", zap.Error(err))
		h.deleteProviderFile(ctx, log, file.ID)
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeMetadataPersist),
			errors.CodeMetadataPersist, "failed to save document metadata", err.Error(), nil)
		return
	}

	// 5. 入队生成任务。此时文档已落库，失败响应携带 documentId 供重试
	job, err := h.jobs.Enqueue(ctx, models.GenerationJob{
		DocumentID:     doc.ID,
		UserID:         userID,
		SteeringPrompt: req.SteeringPrompt,
		OriginalName:   req.OriginalName,
	})
	if err != nil {
		log.Error("failed to enqueue generation job", zap.Uint("documentId", doc.ID), zap.Error(err))
		response.FailWithStatus(c, errors.HTTPStatus(errors.CodeQueueEnqueue),
			errors.CodeQueueEnqueue, "document saved but generation could not be scheduled", err.Error(),
			gin.H{"documentId": doc.ID})
		return
	}

	log.Info("document accepted", zap.Uint("documentId", doc.ID), zap.String("jobId", job.ID))
	response.Success(c, "Document processing started. Podcast generation queued.", gin.H{
		"documentId": doc.ID,
		"jobId":      job.ID,
	})
}

// waitForActive 轮询服务商文件状态直到 ACTIVE，受总超时约束
func (h *Handlers) waitForActive(ctx context.Context, file *llm.FileInfo) (*llm.FileInfo, error) {
	deadline := time.Now().Add(h.pollTimeout)
	for file.State == llm.FileStatePending || file.State == llm.FileStateProcessing {
		if time.Now().After(deadline) {
			return file, errors.WithCodef(errors.CodeProviderProcessingFailed,
				"file %s still %s after %s", file.ID, file.State, h.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return file, ctx.Err()
		case <-time.After(h.pollInterval):
		}
		next, err := h.provider.GetFile(ctx, file.ID)
		if err != nil {
			return file, errors.WrapCode(errors.CodeProviderProcessingFailed, err, "failed to poll provider file state")
		}
		next.ID = file.ID
		file = next
	}
	if file.State != llm.FileStateActive {
		return file, errors.WithCodef(errors.CodeProviderProcessingFailed,
			"file %s ended in state %s", file.ID, file.State)
	}
	return file, nil
}

func (h *Handlers) deleteProviderFile(ctx context.Context, log *zap.Logger, fileID string) {
	if fileID == "" {
		return
	}
	// 请求可能已被取消，清理用独立的短超时上下文
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := h.provider.DeleteFile(cleanupCtx, fileID); err != nil {
		log.Warn("failed to delete provider file during cleanup", zap.String("fileId", fileID), zap.Error(err))
	}
}

// ListDocuments 列出当前用户的文档及处理状态
func (h *Handlers) ListDocuments(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	docs, err := models.GetDocumentsByUser(h.db, userID)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError,
			errors.CodeMetadataPersist, "failed to list documents", err.Error(), nil)
		return
	}
	response.Success(c, "ok", gin.H{"documents": docs, "total": len(docs)})
}

// detectMimeType 按扩展名推断类型，未知时退化为字节流
func detectMimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		// 去掉 mime 包附带的 charset 参数
		if idx := strings.IndexByte(t, ';'); idx > 0 {
			return strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
