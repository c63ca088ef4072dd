package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletauth/internal/apperr"
	"walletauth/internal/infrastructure/lock"
	"walletauth/internal/model"
	"walletauth/internal/payment"
	"walletauth/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	maxOrderNoAttempts = 3
	rechargeSubject    = "账户充值"

	settleLockRetryInterval = 50 * time.Millisecond
	settleLockMaxRetries    = 100
)

// 回调处理结果提示
const (
	MsgPaymentSucceeded = "支付成功"
	MsgPaymentFailed    = "支付失败"
	MsgAlreadyProcessed = "订单已处理"
	MsgCallbackAcked    = "回调处理成功"
)

// SerialGenerator 单号生成，由 idgen.Snowflake 实现
type SerialGenerator interface {
	GenerateOrderNo() string
	GenerateTransactionNo() string
}

type PaymentService struct {
	store       *repository.Store
	uow         *repository.UnitOfWork
	redisClient *redis.Client
	gateways    *payment.Registry
	ids         SerialGenerator
	topic       string
	log         logrus.FieldLogger
}

func NewPaymentService(
	store *repository.Store,
	uow *repository.UnitOfWork,
	redisClient *redis.Client,
	gateways *payment.Registry,
	ids SerialGenerator,
	topic string,
	log logrus.FieldLogger,
) *PaymentService {
	return &PaymentService{
		store:       store,
		uow:         uow,
		redisClient: redisClient,
		gateways:    gateways,
		ids:         ids,
		topic:       topic,
		log:         log,
	}
}

type CreateOrderResult struct {
	OrderID int64           `json:"order_id"`
	OrderNo string          `json:"order_no"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"`
	Status  string          `json:"status"`
	PayURL  string          `json:"pay_url"`
}

// CreateOrder 创建充值订单
// 订单号冲突时换一个重试，最多 maxOrderNoAttempts 次
func (s *PaymentService) CreateOrder(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*CreateOrderResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, apperr.ErrInvalidAmount.WithMsg("amount supports at most two decimal places")
	}
	gateway, ok := s.gateways.Get(method)
	if !ok {
		return nil, apperr.ErrInvalidMethod
	}

	if _, err := s.store.Users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}

	for attempt := 1; attempt <= maxOrderNoAttempts; attempt++ {
		order := &model.PaymentOrder{
			UserID:  userID,
			Amount:  amount.Round(2),
			Method:  method,
			Status:  model.OrderStatusPending,
			OrderNo: s.ids.GenerateOrderNo(),
		}

		err := s.store.Orders.Create(ctx, order)
		if errors.Is(err, repository.ErrDuplicateKey) {
			s.log.WithFields(logrus.Fields{
				"order_no": order.OrderNo,
				"attempt":  attempt,
			}).Error("订单号冲突，重新生成")
			continue
		}
		if err != nil {
			return nil, apperr.ErrInternal.Wrap(err)
		}

		s.log.WithFields(logrus.Fields{
			"order_no": order.OrderNo,
			"user_id":  userID,
			"amount":   order.Amount.StringFixed(2),
			"method":   method,
		}).Info("充值订单已创建")

		return &CreateOrderResult{
			OrderID: order.ID,
			OrderNo: order.OrderNo,
			Amount:  order.Amount,
			Method:  order.Method,
			Status:  order.Status,
			PayURL:  gateway.PayURL(order.OrderNo, order.Amount, rechargeSubject),
		}, nil
	}

	return nil, apperr.ErrOrderNoCollision
}

type CallbackResult struct {
	Message string          `json:"message"`
	OrderNo string          `json:"order_no"`
	Status  string          `json:"status"`
	Amount  decimal.Decimal `json:"amount"`
}

// HandleCallback 处理支付渠道异步通知
// 重复通知不会重复入账；已成功的订单直接确认
func (s *PaymentService) HandleCallback(ctx context.Context, method string, raw []byte) (*CallbackResult, error) {
	gateway, ok := s.gateways.Get(method)
	if !ok {
		return nil, apperr.ErrInvalidMethod
	}

	n, err := gateway.ParseNotification(raw)
	if err != nil {
		return nil, apperr.ErrInvalidCallback.Wrap(err)
	}

	entry := s.log.WithFields(logrus.Fields{
		"method":       method,
		"order_no":     n.OrderNo,
		"trade_no":     n.TradeNo,
		"trade_status": n.Raw,
	})

	order, err := s.store.Orders.GetByOrderNo(ctx, n.OrderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			entry.Warn("回调订单不存在")
			return nil, apperr.ErrOrderNotFound
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}

	if !n.Amount.Equal(order.Amount) {
		entry.WithFields(logrus.Fields{
			"order_amount":    order.Amount.StringFixed(2),
			"callback_amount": n.Amount.String(),
		}).Error("回调金额与订单金额不一致")
		return nil, apperr.ErrAmountMismatch.Wrap(fmt.Errorf("order %s: expected %s, got %s",
			order.OrderNo, order.Amount.StringFixed(2), n.Amount.String()))
	}

	if order.Status == model.OrderStatusSuccess {
		return s.ack(order, MsgAlreadyProcessed), nil
	}

	switch n.Status {
	case payment.TradeSuccess:
		return s.settle(ctx, order, n.TradeNo, entry)
	case payment.TradeClosed:
		return s.markFailed(ctx, order, n.TradeNo, entry)
	default:
		entry.Info("回调状态无需处理")
		return s.ack(order, MsgCallbackAcked), nil
	}
}

// settle 入账：订单锁 + 事务内行锁 + 状态 CAS
func (s *PaymentService) settle(ctx context.Context, order *model.PaymentOrder, tradeNo string, entry *logrus.Entry) (*CallbackResult, error) {
	settleLock := lock.NewSettleLock(s.redisClient, order.OrderNo, uuid.NewString())
	if err := settleLock.Lock(ctx, settleLockRetryInterval, settleLockMaxRetries); err != nil {
		return nil, apperr.ErrInternal.Wrap(fmt.Errorf("acquire settle lock: %w", err))
	}
	defer func() {
		if err := settleLock.Unlock(context.Background()); err != nil {
			entry.WithError(err).Warn("释放订单锁失败")
		}
	}()

	var (
		settled      bool
		current      *model.PaymentOrder
		balanceAfter decimal.Decimal
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx *repository.Store) error {
		locked, err := tx.Orders.GetByOrderNoForUpdate(ctx, order.OrderNo)
		if err != nil {
			return err
		}
		current = locked
		// 拿到锁之后状态已经变化，说明并发的回调已经处理过
		if locked.Status != model.OrderStatusPending {
			return nil
		}

		// 订单还是 pending 却已有流水，说明数据被改坏了，拒绝再次入账
		credited, err := tx.Transactions.CountByOrderNo(ctx, locked.OrderNo)
		if err != nil {
			return err
		}
		if credited > 0 {
			return apperr.ErrAlreadyCredited.Wrap(fmt.Errorf("order %s has %d ledger entries", locked.OrderNo, credited))
		}

		user, err := tx.Users.GetByIDForUpdate(ctx, locked.UserID)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Orders.UpdateStatus(ctx, locked.OrderNo, model.OrderStatusPending, model.OrderStatusSuccess,
			repository.StatusUpdate{TradeNo: tradeNo, PayTime: &now}); err != nil {
			return err
		}

		balanceBefore := user.Balance
		balanceAfter, err = tx.Users.IncreaseBalance(ctx, user, locked.Amount)
		if err != nil {
			return err
		}

		if err := tx.Transactions.Create(ctx, &model.AccountTransaction{
			TransactionNo: s.ids.GenerateTransactionNo(),
			UserID:        user.ID,
			OrderNo:       locked.OrderNo,
			Amount:        locked.Amount,
			Type:          model.TransactionTypeRecharge,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceAfter,
			Remark:        fmt.Sprintf("%s充值-%s", locked.Method, tradeNo),
		}); err != nil {
			return err
		}

		payload, err := json.Marshal(model.PaymentSettledEvent{
			OrderNo:      locked.OrderNo,
			TradeNo:      tradeNo,
			UserID:       user.ID,
			Amount:       locked.Amount.StringFixed(2),
			Method:       locked.Method,
			BalanceAfter: balanceAfter.StringFixed(2),
			PaidAt:       now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := tx.Outbox.Create(ctx, &model.OutboxMessage{
			MessageKey: locked.OrderNo,
			Topic:      s.topic,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}); err != nil {
			return err
		}

		current.Status = model.OrderStatusSuccess
		current.TradeNo = tradeNo
		current.PayTime = &now
		settled = true
		return nil
	})
	if err != nil {
		entry.WithError(err).Error("支付结算失败，事务已回滚")
		if errors.Is(err, apperr.ErrAlreadyCredited) {
			return nil, err
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}

	if !settled {
		if current.Status == model.OrderStatusFailed {
			// 已关闭的订单又收到成功通知，需要人工对账
			entry.WithField("status", current.Status).Error("已关闭订单收到支付成功通知，未入账")
		} else {
			entry.WithField("status", current.Status).Info("订单已被并发回调处理")
		}
		return s.ack(current, MsgAlreadyProcessed), nil
	}

	entry.WithFields(logrus.Fields{
		"user_id":       current.UserID,
		"amount":        current.Amount.StringFixed(2),
		"balance_after": balanceAfter.StringFixed(2),
	}).Info("支付成功，余额已入账")
	return s.ack(current, MsgPaymentSucceeded), nil
}

// markFailed 渠道关单，只改状态，不动余额
func (s *PaymentService) markFailed(ctx context.Context, order *model.PaymentOrder, tradeNo string, entry *logrus.Entry) (*CallbackResult, error) {
	if order.Status != model.OrderStatusPending {
		return s.ack(order, MsgAlreadyProcessed), nil
	}

	err := s.store.Orders.UpdateStatus(ctx, order.OrderNo, model.OrderStatusPending, model.OrderStatusFailed,
		repository.StatusUpdate{TradeNo: tradeNo})
	if errors.Is(err, repository.ErrOrderStatusInvalid) {
		return s.ack(order, MsgAlreadyProcessed), nil
	}
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}

	entry.Info("支付失败，订单已关闭")
	order.Status = model.OrderStatusFailed
	order.TradeNo = tradeNo
	return s.ack(order, MsgPaymentFailed), nil
}

func (s *PaymentService) ack(order *model.PaymentOrder, msg string) *CallbackResult {
	return &CallbackResult{
		Message: msg,
		OrderNo: order.OrderNo,
		Status:  order.Status,
		Amount:  order.Amount,
	}
}

// GetOrders 用户的充值订单，新的在前
func (s *PaymentService) GetOrders(ctx context.Context, userID int64) ([]*model.PaymentOrder, error) {
	orders, err := s.store.Orders.ListByUserID(ctx, userID)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	return orders, nil
}

func (s *PaymentService) GetOrderDetail(ctx context.Context, orderID, userID int64) (*model.PaymentOrder, error) {
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}
	if order.UserID != userID {
		return nil, apperr.ErrForbidden
	}
	return order, nil
}
