package mq

import (
	"fmt"

	"walletauth/internal/config"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Producer 同步生产者封装，验证码投递和 outbox 转发共用一个实例
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig, log logrus.FieldLogger) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka 生产者创建成功")
	return NewProducer(producer), nil
}

// Send 发送消息，返回时 broker 已确认
func (p *Producer) Send(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
