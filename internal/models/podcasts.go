package models

import (
	"time"

	"gorm.io/gorm"
)

// Podcast 生成状态
const (
	PodcastStatusScriptGenerated = "SCRIPT_GENERATED"
)

type Podcast struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"userId" gorm:"size:64;index"`
	DocumentID     uint      `json:"documentId" gorm:"index"` // 来源文档
	Title          string    `json:"title" gorm:"size:512"`
	SteeringPrompt string    `json:"steeringPrompt" gorm:"type:text"` // 生成时使用的引导语
	Script         string    `json:"script" gorm:"type:text"`         // 生成的双主播脚本
	Status         string    `json:"status" gorm:"size:64"`           // SCRIPT_GENERATED
	Language       string    `json:"language" gorm:"size:16"`
	DedupeKey      string    `json:"-" gorm:"size:128;uniqueIndex"` // documentID:jobID，重试幂等键
	CreatedAt      time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CreatePodcast 保存生成的脚本
func CreatePodcast(db *gorm.DB, p *Podcast) (*Podcast, error) {
	if err := db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPodcast 获取单个脚本
func GetPodcast(db *gorm.DB, id uint) (*Podcast, error) {
	var p Podcast
	if err := db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPodcastsByUser 获取某个用户的所有脚本
func GetPodcastsByUser(db *gorm.DB, userID string) ([]Podcast, error) {
	var podcasts []Podcast
	if err := db.Where("user_id = ?", userID).Order("created_at desc").Find(&podcasts).Error; err != nil {
		return nil, err
	}
	return podcasts, nil
}

// GetPodcastByDedupeKey 按幂等键查找（重试时探测上次尝试是否已落库）
func GetPodcastByDedupeKey(db *gorm.DB, key string) (*Podcast, error) {
	var p Podcast
	err := db.Where("dedupe_key = ?", key).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{}, &Podcast{})
}
