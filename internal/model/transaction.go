package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeRecharge = "RECHARGE" // 充值
)

// AccountTransaction 账户流水表
// 只追加，不修改；每笔余额变动都要关联订单号并记录前后余额，便于对账
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	OrderNo       string          `gorm:"type:varchar(64);index;not null" json:"order_no"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
