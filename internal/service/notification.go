package service

import (
	"context"
	"errors"
	"regexp"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
	"github.com/KafetzisThomas/Chatterbox/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// mentionPattern 匹配消息文本中的 @用户名 标记
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// TaskEnqueuer 抽象了后台任务的入队操作，*asynq.Client 实现了该接口。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NotificationService 处理消息中的 @提及：解析被提及的用户，
// 将邮件通知任务放入后台队列。整个路径是尽力而为的，
// 任何失败都只记录日志，绝不传播到消息处理主路径。
type NotificationService struct {
	userRepo repository.UserRepository
	enqueuer TaskEnqueuer
}

// NewNotificationService 创建 NotificationService 实例。
func NewNotificationService(userRepo repository.UserRepository, enqueuer TaskEnqueuer) *NotificationService {
	if userRepo == nil {
		panic("UserRepository cannot be nil for NotificationService")
	}
	if enqueuer == nil {
		panic("TaskEnqueuer cannot be nil for NotificationService")
	}
	return &NotificationService{
		userRepo: userRepo,
		enqueuer: enqueuer,
	}
}

// NotifyMentions 为消息文本中每个有效的 @提及 入队一个邮件通知任务。
// 跳过：作者自己、未知用户、没有邮箱的用户。重复提及同一用户只通知一次。
func (s *NotificationService) NotifyMentions(ctx context.Context, author *domain.User, content string) {
	if author == nil || content == "" {
		return
	}
	logCtx := logrus.WithField("author", author.Username)

	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(content, -1) {
		token := match[1]
		if seen[token] {
			continue
		}
		seen[token] = true

		if token == author.Username {
			// 自己提及自己不通知
			continue
		}

		mentioned, err := s.userRepo.FindByUsername(ctx, token)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				logCtx.WithField("token", token).Debug("Mention token does not match a user, skipping")
			} else {
				logCtx.WithError(err).WithField("token", token).Warn("Repository error resolving mentioned user")
			}
			continue
		}
		if mentioned.Email == "" {
			logCtx.WithField("mentioned", mentioned.Username).Debug("Mentioned user has no email, skipping")
			continue
		}

		payload, err := tasks.NewMentionNotificationTask(tasks.MentionNotificationPayload{
			Sender:         author.Username,
			Recipient:      mentioned.Username,
			RecipientEmail: mentioned.Email,
			Message:        content,
		})
		if err != nil {
			logCtx.WithError(err).Error("Failed to build mention notification payload")
			continue
		}
		task := asynq.NewTask(tasks.TypeMentionNotification, payload)
		if _, err := s.enqueuer.EnqueueContext(ctx, task, asynq.Queue("low"), asynq.MaxRetry(3)); err != nil {
			logCtx.WithError(err).WithField("mentioned", mentioned.Username).Error("Failed to enqueue mention notification task")
			continue
		}
		logCtx.WithField("mentioned", mentioned.Username).Info("Mention notification task enqueued")
	}
}
