package llm

import "context"

// FileState is the provider-side processing state of an uploaded file
type FileState string

const (
	FileStatePending    FileState = "PENDING"
	FileStateProcessing FileState = "PROCESSING"
	FileStateActive     FileState = "ACTIVE"
	FileStateFailed     FileState = "FAILED"
)

// FileInfo describes a remote provider file
type FileInfo struct {
	ID       string
	URI      string
	State    FileState
	MimeType string
}

// FileRef points a generation request at a previously uploaded file
type FileRef struct {
	URI      string
	MimeType string
}

// Provider is the generative AI collaborator used by the pipeline.
// Implementations must be safe for concurrent use.
type Provider interface {
	// UploadFile uploads raw document bytes and returns the remote file handle
	UploadFile(ctx context.Context, data []byte, name, mimeType string) (*FileInfo, error)

	// GetFile fetches the current processing state of an uploaded file
	GetFile(ctx context.Context, id string) (*FileInfo, error)

	// DeleteFile removes a remote file; callers treat failures as non-fatal
	DeleteFile(ctx context.Context, id string) error

	// GenerateContent runs generation against an uploaded file plus instructions
	GenerateContent(ctx context.Context, instruction string, ref FileRef) (string, error)
}
