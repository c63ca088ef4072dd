package repository

import (
	"context"
	"errors"
	"time"

	"walletauth/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.PaymentOrder) error {
	err := r.db.WithContext(ctx).Create(order).Error
	if IsDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.PaymentOrder, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentOrder, error) {
	return r.first(r.db.WithContext(ctx).Where("order_no = ?", orderNo))
}

// GetByOrderNoForUpdate 行锁读取，必须在事务中调用
func (r *OrderRepository) GetByOrderNoForUpdate(ctx context.Context, orderNo string) (*model.PaymentOrder, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_no = ?", orderNo))
}

// StatusUpdate 状态迁移时一起写入的字段
type StatusUpdate struct {
	TradeNo string
	PayTime *time.Time
}

// UpdateStatus 以 fromStatus 为条件做 CAS 更新，影响行数为 0 说明状态已被其他请求改变
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderNo string, fromStatus, toStatus string, extra StatusUpdate) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if extra.TradeNo != "" {
		updates["trade_no"] = extra.TradeNo
	}
	if extra.PayTime != nil {
		updates["pay_time"] = extra.PayTime
	}

	result := r.db.WithContext(ctx).
		Model(&model.PaymentOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// ListByUserID 没有订单时返回空切片而不是 nil
func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.PaymentOrder, error) {
	orders := make([]*model.PaymentOrder, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("create_time DESC").
		Order("id DESC").
		Find(&orders).Error
	return orders, err
}

// GetPendingOrders 查询创建时间早于 before 仍未支付的订单
func (r *OrderRepository) GetPendingOrders(ctx context.Context, before time.Time, limit int) ([]*model.PaymentOrder, error) {
	var orders []*model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND create_time < ?", model.OrderStatusPending, before).
		Order("create_time ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) first(query *gorm.DB) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := query.First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}
