package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("用户不存在")
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
	ErrDuplicateKey       = errors.New("唯一键冲突")
	ErrBalanceConflict    = errors.New("余额已被并发修改")
)

// IsDuplicateKey 判断是否违反唯一约束
// gorm 开启 TranslateError 时返回 gorm.ErrDuplicatedKey；未开启时 MySQL 返回 1062，SQLite 返回 UNIQUE constraint failed
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
