package tasks

import (
	"encoding/json"
)

// 定义任务类型常量
const (
	TypeMentionNotification = "notification:mention" // @提及 邮件通知任务类型
)

// MentionNotificationPayload 定义了提及通知任务的数据结构
type MentionNotificationPayload struct {
	Sender         string `json:"sender"`          // 发出提及的用户名
	Recipient      string `json:"recipient"`       // 被提及的用户名
	RecipientEmail string `json:"recipient_email"` // 被提及用户的邮箱
	Message        string `json:"message"`         // 包含提及的原始消息文本
}

// NewMentionNotificationTask 将提及通知的 payload 序列化为任务字节。
// Asynq 的 NewTask 直接接收 []byte payload，由调用方构造 Task。
func NewMentionNotificationTask(payload MentionNotificationPayload) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return payloadBytes, nil
}
