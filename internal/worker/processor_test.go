package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"EchoCast/internal/models"
	pkgerrors "EchoCast/pkg/errors"
	"EchoCast/pkg/llm"
	"EchoCast/pkg/queue"
	"EchoCast/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	script      string
	generateErr error
	deleteErr   error
	deleted     []string
}

func (f *fakeProvider) UploadFile(ctx context.Context, data []byte, name, mimeType string) (*llm.FileInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) GetFile(ctx context.Context, id string) (*llm.FileInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) DeleteFile(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeProvider) GenerateContent(ctx context.Context, instruction string, ref llm.FileRef) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.script, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := util.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestJob(t *testing.T, id string, payload models.GenerationJob) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: id, Payload: data, AttemptsMade: 1, MaxAttempts: 3}
}

func seedDocument(t *testing.T, db *gorm.DB, doc *models.Document) *models.Document {
	t.Helper()
	created, err := models.CreateDocument(db, doc)
	require.NoError(t, err)
	return created
}

func TestHandleGeneratesAndPersistsScript(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{script: "ALEX: Hi.\nSAMIRA: Hello."}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:          "u1",
		OriginalName:    "quarterly-report.pdf",
		ProviderFileID:  "files/abc",
		ProviderFileURI: "https://provider/files/abc",
		MimeType:        "application/pdf",
		Status:          models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-1", models.GenerationJob{
		DocumentID: doc.ID, UserID: "u1", OriginalName: "quarterly-report.pdf",
	})
	require.NoError(t, p.Handle(context.Background(), job))

	podcasts, err := models.GetPodcastsByUser(db, "u1")
	require.NoError(t, err)
	require.Len(t, podcasts, 1)
	assert.Equal(t, "Podcast about quarterly-report", podcasts[0].Title)
	assert.Equal(t, provider.script, podcasts[0].Script)
	assert.Equal(t, models.PodcastStatusScriptGenerated, podcasts[0].Status)
	assert.Equal(t, doc.ID, podcasts[0].DocumentID)

	updated, err := models.GetDocument(db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusScriptComplete, updated.Status)

	// 成功路径也回收远端文件
	assert.Equal(t, []string{"files/abc"}, provider.deleted)
}

func TestHandleRetryDoesNotDuplicatePodcast(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{script: "ALEX: Take two."}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:          "u1",
		OriginalName:    "paper.pdf",
		ProviderFileID:  "files/xyz",
		ProviderFileURI: "https://provider/files/xyz",
		Status:          models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-7", models.GenerationJob{DocumentID: doc.ID, UserID: "u1", OriginalName: "paper.pdf"})
	require.NoError(t, p.Handle(context.Background(), job))

	// 同一任务重投（如状态更新后进程被杀、租约过期重试）
	job = newTestJob(t, "job-7", models.GenerationJob{DocumentID: doc.ID, UserID: "u1", OriginalName: "paper.pdf"})
	job.AttemptsMade = 2
	require.NoError(t, p.Handle(context.Background(), job))

	podcasts, err := models.GetPodcastsByUser(db, "u1")
	require.NoError(t, err)
	assert.Len(t, podcasts, 1)
}

func TestHandleDocumentNotFound(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	p := NewProcessor(db, provider)

	job := newTestJob(t, "job-2", models.GenerationJob{DocumentID: 999, UserID: "u1"})
	err := p.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDocumentNotFound))
	assert.Empty(t, provider.deleted)
}

func TestHandleMissingRemoteReference(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:         "u1",
		OriginalName:   "orphan.pdf",
		ProviderFileID: "files/orphan",
		Status:         models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-3", models.GenerationJob{DocumentID: doc.ID, UserID: "u1"})
	err := p.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMissingRemoteReference))
	// 失败前清理了已知的远端文件
	assert.Equal(t, []string{"files/orphan"}, provider.deleted)
}

func TestHandleGenerationFailureCleansUp(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{generateErr: errors.New("model overloaded")}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:          "u1",
		OriginalName:    "doc.pdf",
		ProviderFileID:  "files/gen",
		ProviderFileURI: "https://provider/files/gen",
		Status:          models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-4", models.GenerationJob{DocumentID: doc.ID, UserID: "u1"})
	err := p.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGeneration))
	assert.Equal(t, []string{"files/gen"}, provider.deleted)

	// 脚本未落库
	podcasts, err := models.GetPodcastsByUser(db, "u1")
	require.NoError(t, err)
	assert.Empty(t, podcasts)
}

func TestHandleBlankScriptFails(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{script: "   \n\t"}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:          "u1",
		OriginalName:    "blank.pdf",
		ProviderFileID:  "files/blank",
		ProviderFileURI: "https://provider/files/blank",
		Status:          models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-8", models.GenerationJob{DocumentID: doc.ID, UserID: "u1"})
	err := p.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGeneration))
	assert.Equal(t, []string{"files/blank"}, provider.deleted)

	podcasts, err := models.GetPodcastsByUser(db, "u1")
	require.NoError(t, err)
	assert.Empty(t, podcasts)
}

func TestHandleCleanupFailureDoesNotFailJob(t *testing.T) {
	db := newTestDB(t)
	provider := &fakeProvider{script: "ALEX: Done.", deleteErr: errors.New("file api unavailable")}
	p := NewProcessor(db, provider)

	doc := seedDocument(t, db, &models.Document{
		UserID:          "u1",
		OriginalName:    "notes.txt",
		ProviderFileID:  "files/cleanup",
		ProviderFileURI: "https://provider/files/cleanup",
		Status:          models.DocStatusAwaitingScript,
	})

	job := newTestJob(t, "job-6", models.GenerationJob{DocumentID: doc.ID, UserID: "u1", OriginalName: "notes.txt"})
	// 脚本已落库，远端清理失败只告警
	require.NoError(t, p.Handle(context.Background(), job))

	podcasts, err := models.GetPodcastsByUser(db, "u1")
	require.NoError(t, err)
	assert.Len(t, podcasts, 1)
	assert.Equal(t, []string{"files/cleanup"}, provider.deleted)
}

func TestHandleInvalidPayload(t *testing.T) {
	db := newTestDB(t)
	p := NewProcessor(db, &fakeProvider{})

	job := &queue.Job{ID: "job-5", Payload: []byte("{not json")}
	err := p.Handle(context.Background(), job)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidRequest))
}
