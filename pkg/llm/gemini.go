package llm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider on top of the Gemini Files and Models APIs
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *logrus.Logger
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger *logrus.Logger) (*GeminiProvider, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, logger: logger}, nil
}

// UploadFile uploads raw document bytes to the Gemini Files API
func (p *GeminiProvider) UploadFile(ctx context.Context, data []byte, name, mimeType string) (*FileInfo, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	file, err := p.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		DisplayName: name,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	p.logger.WithFields(logrus.Fields{"file": file.Name, "state": file.State}).Info("uploaded file to gemini")
	return p.toFileInfo(file), nil
}

// GetFile fetches the current state of an uploaded file
func (p *GeminiProvider) GetFile(ctx context.Context, id string) (*FileInfo, error) {
	file, err := p.client.Files.Get(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}
	return p.toFileInfo(file), nil
}

// DeleteFile removes a remote file
func (p *GeminiProvider) DeleteFile(ctx context.Context, id string) error {
	if _, err := p.client.Files.Delete(ctx, id, nil); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	p.logger.WithField("file", id).Info("deleted gemini file")
	return nil
}

// GenerateContent runs generation against an uploaded file plus instructions
func (p *GeminiProvider) GenerateContent(ctx context.Context, instruction string, ref FileRef) (string, error) {
	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromURI(ref.URI, mimeType),
		}, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 8192,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned empty content")
	}
	return text, nil
}

func (p *GeminiProvider) toFileInfo(file *genai.File) *FileInfo {
	return &FileInfo{
		ID:       file.Name,
		URI:      file.URI,
		State:    mapState(file.State),
		MimeType: file.MIMEType,
	}
}

func mapState(state genai.FileState) FileState {
	switch state {
	case genai.FileStateProcessing:
		return FileStateProcessing
	case genai.FileStateActive:
		return FileStateActive
	case genai.FileStateFailed:
		return FileStateFailed
	default:
		return FileStatePending
	}
}
