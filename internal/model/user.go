package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 用户凭证表
// 身份信息和账户余额在同一行，余额只能在支付结算事务中变更
type User struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Email        *string         `gorm:"type:varchar(100);uniqueIndex" json:"email,omitempty"` // 为空时存 NULL，唯一索引不冲突
	Phone        *string         `gorm:"type:varchar(32);uniqueIndex" json:"phone,omitempty"`
	PasswordHash string          `gorm:"type:varchar(100);not null" json:"-"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Avatar       string          `gorm:"type:varchar(1000);not null;default:''" json:"avatar"`
	Bio          string          `gorm:"type:varchar(1000);not null;default:''" json:"bio"`
	Version      int             `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// PublicUser 对外暴露的用户信息，不包含密码哈希
type PublicUser struct {
	ID       int64           `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
	Avatar   string          `json:"avatar"`
	Bio      string          `json:"bio"`
}

func (u *User) Public() *PublicUser {
	p := &PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Balance:  u.Balance,
		Avatar:   u.Avatar,
		Bio:      u.Bio,
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	return p
}

// NullableString 空字符串转为 nil，用于可选的唯一列
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
