package repository

import (
	"context"

	"walletauth/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.AccountTransaction) error {
	return r.db.WithContext(ctx).Create(trans).Error
}

// CountByOrderNo 结算前检查同一订单是否已经入过账
func (r *TransactionRepository) CountByOrderNo(ctx context.Context, orderNo string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Where("order_no = ?", orderNo).
		Count(&count).Error
	return count, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var transactions []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
