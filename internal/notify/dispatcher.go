package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Dispatcher 验证码投递，返回 nil 表示下游已接收
type Dispatcher interface {
	Send(ctx context.Context, identifier, code string) error
}

// MessageSender 由 mq.Producer 实现
type MessageSender interface {
	Send(topic, key string, value []byte) error
}

// DeliveryRequest 投递请求，由邮件/短信 worker 消费
type DeliveryRequest struct {
	RequestID string `json:"request_id"`
	Channel   string `json:"channel"`
	To        string `json:"to"`
	Code      string `json:"code"`
	Subject   string `json:"subject,omitempty"`
	ExpireMin int    `json:"expire_min"`
	CreatedAt string `json:"created_at"`
}

// KafkaDispatcher 把投递请求写入 Kafka
type KafkaDispatcher struct {
	sender  MessageSender
	topic   string
	channel string
	codeTTL time.Duration
}

func NewKafkaDispatcher(sender MessageSender, topic, channel string, codeTTL time.Duration) *KafkaDispatcher {
	return &KafkaDispatcher{sender: sender, topic: topic, channel: channel, codeTTL: codeTTL}
}

func (d *KafkaDispatcher) Send(ctx context.Context, identifier, code string) error {
	req := DeliveryRequest{
		RequestID: uuid.NewString(),
		Channel:   d.channel,
		To:        identifier,
		Code:      code,
		ExpireMin: int(d.codeTTL / time.Minute),
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	switch d.channel {
	case ChannelSMS:
		// 短信网关要求带国家码
		if !strings.HasPrefix(identifier, "+") {
			req.To = "+86" + identifier
		}
	case ChannelEmail:
		req.Subject = "登录验证码"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化投递请求失败: %w", err)
	}

	// sarama 同步发送不感知 ctx，超时由调用方的 ctx 控制
	done := make(chan error, 1)
	go func() {
		done <- d.sender.Send(d.topic, identifier, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("投递 %s 验证码失败: %w", d.channel, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("投递 %s 验证码超时: %w", d.channel, ctx.Err())
	}
}

// LogDispatcher 本地开发用，验证码直接打到日志里
type LogDispatcher struct {
	log     logrus.FieldLogger
	channel string
}

func NewLogDispatcher(log logrus.FieldLogger, channel string) *LogDispatcher {
	return &LogDispatcher{log: log, channel: channel}
}

func (d *LogDispatcher) Send(_ context.Context, identifier, code string) error {
	d.log.WithFields(logrus.Fields{
		"channel": d.channel,
		"to":      identifier,
		"code":    code,
	}).Info("验证码已生成")
	return nil
}
