package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store 绑定到同一个 *gorm.DB（连接或事务）的仓储集合
type Store struct {
	Users        *UserRepository
	Orders       *OrderRepository
	Transactions *TransactionRepository
	Outbox       *OutboxRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Users:        NewUserRepository(db),
		Orders:       NewOrderRepository(db),
		Transactions: NewTransactionRepository(db),
		Outbox:       NewOutboxRepository(db),
	}
}

// UnitOfWork 事务边界：fn 返回 nil 时提交，返回错误或 panic 时整体回滚
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do 在事务中执行 fn，fn 内只能使用传入的 tx，不能再用外层连接
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewStore(tx))
	})
}
