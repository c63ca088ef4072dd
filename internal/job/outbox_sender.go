package job

import (
	"context"
	"time"

	"walletauth/internal/model"
	"walletauth/internal/repository"

	"github.com/sirupsen/logrus"
)

// Publisher 由 mq.Producer 实现
type Publisher interface {
	Send(topic, key string, value []byte) error
}

// OutboxSender 把结算事务写入的事件投递到 Kafka
// 至少投递一次，消费方按 order_no 去重
type OutboxSender struct {
	outbox    *repository.OutboxRepository
	publisher Publisher
	maxRetry  int
	log       logrus.FieldLogger
	interval  time.Duration
	batchSize int
}

func NewOutboxSender(outbox *repository.OutboxRepository, publisher Publisher, maxRetry int, log logrus.FieldLogger) *OutboxSender {
	return &OutboxSender{
		outbox:    outbox,
		publisher: publisher,
		maxRetry:  maxRetry,
		log:       log.WithField("job", "OutboxSender"),
		interval:  500 * time.Millisecond,
		batchSize: 100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outbox.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询待发送消息失败")
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	entry := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.publisher.Send(msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.outbox.MarkAsSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("更新消息状态失败")
			return
		}
		entry.Debug("消息发送成功")
		return
	}

	entry.WithError(err).Warn("消息发送失败")

	if err := s.outbox.IncrementRetryCount(ctx, msg.ID); err != nil {
		entry.WithError(err).Error("增加重试次数失败")
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outbox.MarkAsFailed(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("标记消息失败状态失败")
			return
		}
		entry.Error("消息超过最大重试次数，标记为失败")
	}
}
