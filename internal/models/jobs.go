package models

// GenerationJob 队列任务负载：指示 Worker 为某个文档生成脚本
type GenerationJob struct {
	DocumentID     uint   `json:"documentId"`
	UserID         string `json:"userId"`
	SteeringPrompt string `json:"steeringPrompt,omitempty"`
	OriginalName   string `json:"originalName"` // 冗余存一份，便于日志排查
}
