package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 本地消息表，和业务数据在同一事务中写入
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// PaymentSettledEvent 支付成功事件，写入 outbox 后由 OutboxSender 投递到 Kafka
type PaymentSettledEvent struct {
	OrderNo      string `json:"order_no"`
	TradeNo      string `json:"trade_no"`
	UserID       int64  `json:"user_id"`
	Amount       string `json:"amount"`
	Method       string `json:"method"`
	BalanceAfter string `json:"balance_after"`
	PaidAt       string `json:"paid_at"`
}
