package models

import (
	"time"

	"gorm.io/gorm"
)

// Document 处理状态
const (
	DocStatusAwaitingScript = "AWAITING_SCRIPT"
	DocStatusScriptComplete = "SCRIPT_GENERATION_COMPLETE"
	DocStatusError          = "ERROR"
)

type Document struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	UserID            string    `json:"userId" gorm:"size:64;index"` // 上传者（外部身份系统分配）
	OriginalName      string    `json:"originalName" gorm:"size:512"`
	StoragePath       string    `json:"storagePath" gorm:"size:1024"` // 对象存储内路径
	ProviderFileID    string    `json:"providerFileId" gorm:"size:256"`
	ProviderFileURI   string    `json:"providerFileUri" gorm:"size:1024"`
	ProviderFileState string    `json:"providerFileState" gorm:"size:32"` // PENDING/PROCESSING/ACTIVE/FAILED
	MimeType          string    `json:"mimeType" gorm:"size:128"`
	Status            string    `json:"status" gorm:"size:64;index"` // AWAITING_SCRIPT / SCRIPT_GENERATION_COMPLETE / ERROR
	CreatedAt         time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CreateDocument 创建文档元数据记录
func CreateDocument(db *gorm.DB, doc *Document) (*Document, error) {
	if err := db.Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument 获取单个文档
func GetDocument(db *gorm.DB, id uint) (*Document, error) {
	var doc Document
	if err := db.First(&doc, id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocumentsByUser 获取某个用户的所有文档
func GetDocumentsByUser(db *gorm.DB, userID string) ([]Document, error) {
	var docs []Document
	if err := db.Where("user_id = ?", userID).Order("created_at desc").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateDocumentStatus 更新文档处理状态
func UpdateDocumentStatus(db *gorm.DB, id uint, status string) error {
	return db.Model(&Document{}).Where("id = ?", id).Update("status", status).Error
}
