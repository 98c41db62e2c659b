package worker

import (
	"context"
	"fmt"
	"strings"

	"EchoCast/internal/models"
	"EchoCast/pkg/errors"
	"EchoCast/pkg/llm"
	"EchoCast/pkg/logger"
	"EchoCast/pkg/queue"
	"EchoCast/pkg/util"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processor 执行单个生成任务的多段流水线：
// 取文档 → 组装指令 → 调用生成 → 落库脚本 → 更新文档状态 → 清理远端文件。
// 步骤 1-5 的失败上抛给队列触发重试；状态更新与远端清理为尽力而为。
type Processor struct {
	db       *gorm.DB
	provider llm.Provider
}

func NewProcessor(db *gorm.DB, provider llm.Provider) *Processor {
	return &Processor{db: db, provider: provider}
}

// Handle 处理一个 GenerationJob，作为 queue.Handler 挂载
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.GenerationJob
	if err := job.Unmarshal(&payload); err != nil {
		return errors.WrapCode(errors.CodeInvalidRequest, err, "invalid job payload")
	}

	log := logger.L().With(
		zap.String("jobId", job.ID),
		zap.Uint("documentId", payload.DocumentID),
		zap.Int("attempt", job.AttemptsMade),
	)
	log.Info("starting script generation", zap.String("originalName", payload.OriginalName))
	_ = job.UpdateProgress(ctx, 5)

	// 1. 取文档元数据。缺失可能是复制延迟，按可重试失败处理
	doc, err := models.GetDocument(p.db, payload.DocumentID)
	if err != nil {
		return errors.WrapCode(errors.CodeDocumentNotFound, err,
			fmt.Sprintf("document %d not found", payload.DocumentID))
	}
	_ = job.UpdateProgress(ctx, 10)

	// 2. 没有远端文件引用就无从生成。重试大概率无济于事，但仍交给
	// 重试上限兜底，避免为单一场景引入特殊终止通道
	if doc.ProviderFileURI == "" {
		return p.failWithCleanup(ctx, log, doc,
			errors.WithCodef(errors.CodeMissingRemoteReference, "provider file URI missing for document %d", doc.ID))
	}

	// 3. 组装指令并调用生成
	instruction := BuildInstruction(payload.SteeringPrompt)
	_ = job.UpdateProgress(ctx, 20)

	script, err := p.provider.GenerateContent(ctx, instruction, llm.FileRef{
		URI:      doc.ProviderFileURI,
		MimeType: doc.MimeType,
	})
	if err != nil {
		return p.failWithCleanup(ctx, log, doc,
			errors.WrapCode(errors.CodeGeneration, err, "script generation failed"))
	}
	if strings.TrimSpace(script) == "" {
		// 具体实现各有兜底，流水线边界仍然不信任空脚本
		return p.failWithCleanup(ctx, log, doc,
			errors.WithCode(errors.CodeGeneration, "provider returned an empty script"))
	}
	_ = job.UpdateProgress(ctx, 60)
	_ = job.UpdateProgress(ctx, 70)

	// 4. 落库脚本。幂等键保证同一任务的重试不会插入重复行
	dedupeKey := fmt.Sprintf("%d:%s", doc.ID, job.ID)
	podcast, err := models.GetPodcastByDedupeKey(p.db, dedupeKey)
	if err != nil {
		return p.failWithCleanup(ctx, log, doc,
			errors.WrapCode(errors.CodeScriptPersist, err, "failed to check existing podcast"))
	}
	if podcast != nil {
		log.Info("podcast already persisted by a previous attempt, skipping insert",
			zap.Uint("podcastId", podcast.ID))
	} else {
		podcast, err = models.CreatePodcast(p.db, &models.Podcast{
			UserID:         payload.UserID,
			DocumentID:     doc.ID,
			Title:          "Podcast about " + util.StripExtension(doc.OriginalName),
			SteeringPrompt: payload.SteeringPrompt,
			Script:         script,
			Status:         models.PodcastStatusScriptGenerated,
			Language:       "en",
			DedupeKey:      dedupeKey,
		})
		if err != nil {
			return p.failWithCleanup(ctx, log, doc,
				errors.WrapCode(errors.CodeScriptPersist, err, "failed to save generated script"))
		}
	}
	_ = job.UpdateProgress(ctx, 85)

	// 5. 更新文档状态。脚本已持久化，这里失败只记日志不失败任务
	if err := models.UpdateDocumentStatus(p.db, doc.ID, models.DocStatusScriptComplete); err != nil {
		log.Warn("failed to update document status, script already saved", zap.Error(err))
	}
	_ = job.UpdateProgress(ctx, 95)

	// 6. 清理远端文件，尽力而为
	p.cleanupRemoteFile(ctx, log, doc)

	_ = job.UpdateProgress(ctx, 100)
	log.Info("job completed", zap.Uint("podcastId", podcast.ID))
	return nil
}

// failWithCleanup 尝试失败前先清理远端文件，避免跨重试泄漏服务商存储
func (p *Processor) failWithCleanup(ctx context.Context, log *zap.Logger, doc *models.Document, cause error) error {
	p.cleanupRemoteFile(ctx, log, doc)
	return cause
}

func (p *Processor) cleanupRemoteFile(ctx context.Context, log *zap.Logger, doc *models.Document) {
	if doc == nil || doc.ProviderFileID == "" {
		return
	}
	if err := p.provider.DeleteFile(ctx, doc.ProviderFileID); err != nil {
		log.Warn("failed to delete provider file", zap.String("fileId", doc.ProviderFileID), zap.Error(err))
	}
}
