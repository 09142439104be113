package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	// 导入内部包
	"github.com/KafetzisThomas/Chatterbox/internal/tasks"
)

// Mailer 抽象了邮件发送，便于在测试中替换真实的 SMTP 实现。
type Mailer interface {
	Send(to, subject, body string) error
}

// MentionNotificationHandler 处理 @提及 邮件通知任务
type MentionNotificationHandler struct {
	mailer Mailer
}

// NewMentionNotificationHandler 创建 Handler 实例
func NewMentionNotificationHandler(mailer Mailer) *MentionNotificationHandler {
	if mailer == nil {
		panic("Mailer cannot be nil for MentionNotificationHandler")
	}
	return &MentionNotificationHandler{mailer: mailer}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *MentionNotificationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Info("Processing mention notification task...")

	var payload tasks.MentionNotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	subject := fmt.Sprintf("%s mentioned you in a chat", payload.Sender)
	body := fmt.Sprintf("Hi %s,\r\n\r\n%s mentioned you:\r\n\r\n%s\r\n", payload.Recipient, payload.Sender, payload.Message)
	if err := h.mailer.Send(payload.RecipientEmail, subject, body); err != nil {
		logCtx.WithError(err).Errorf("Failed to send mention notification email to %s", payload.Recipient)
		return fmt.Errorf("failed to send mention email to %s: %w", payload.Recipient, err)
	}

	logCtx.WithField("recipient", payload.Recipient).Info("Mention notification task processed successfully")
	return nil
}
