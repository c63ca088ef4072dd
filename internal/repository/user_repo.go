package repository

import (
	"context"
	"errors"

	"walletauth/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByIDForUpdate 必须在事务中调用
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.User, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(r.db.WithContext(ctx).Where("email = ?", email))
}

func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	return r.first(r.db.WithContext(ctx).Where("phone = ?", phone))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.first(r.db.WithContext(ctx).Where("username = ?", username))
}

// ExistsByIdentity 任一非空字段已被占用即返回 true
func (r *UserRepository) ExistsByIdentity(ctx context.Context, username, email, phone string) (bool, error) {
	query := r.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username)
	if email != "" {
		query = query.Or("email = ?", email)
	}
	if phone != "" {
		query = query.Or("phone = ?", phone)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// IncreaseBalance 增加余额，只能在结算事务内对 GetByIDForUpdate 读出的 user 调用
// 新余额在应用层用 decimal 计算后整体写回，不依赖数据库的小数运算；version 不匹配说明余额已被改动
func (r *UserRepository) IncreaseBalance(ctx context.Context, user *model.User, amount decimal.Decimal) (decimal.Decimal, error) {
	balance := user.Balance.Add(amount)
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Updates(map[string]interface{}{
			"balance": balance,
			"version": user.Version + 1,
		})

	if result.Error != nil {
		return decimal.Zero, result.Error
	}

	if result.RowsAffected == 0 {
		return decimal.Zero, ErrBalanceConflict
	}

	user.Balance = balance
	user.Version++
	return balance, nil
}

func (r *UserRepository) first(query *gorm.DB) (*model.User, error) {
	var user model.User
	err := query.First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
