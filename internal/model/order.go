package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusSuccess   = "success"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// success / failed / cancelled 都是终态
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusSuccess, OrderStatusFailed, OrderStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PayMethodAlipay = "alipay"
	PayMethodWechat = "wechat"
)

// PaymentOrder 充值订单
type PaymentOrder struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64           `gorm:"index;not null" json:"user_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Method     string          `gorm:"type:varchar(16);not null" json:"method"`
	Status     string          `gorm:"type:varchar(16);index;not null" json:"status"`
	OrderNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	TradeNo    string          `gorm:"type:varchar(255);not null;default:''" json:"trade_no"` // 第三方支付平台交易号
	CreateTime time.Time       `gorm:"autoCreateTime;index" json:"create_time"`
	UpdateTime time.Time       `gorm:"autoUpdateTime" json:"update_time"`
	PayTime    *time.Time      `json:"pay_time"`
}

func (PaymentOrder) TableName() string {
	return "payment_order"
}
