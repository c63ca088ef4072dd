package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"walletauth/internal/apperr"
	"walletauth/internal/model"
	"walletauth/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alipayBody(orderNo, tradeNo, status, amount string) []byte {
	return []byte(url.Values{
		"out_trade_no": {orderNo},
		"trade_no":     {tradeNo},
		"trade_status": {status},
		"total_amount": {amount},
	}.Encode())
}

func wechatBody(orderNo, txID, state string, cents int64) []byte {
	return []byte(fmt.Sprintf(`{"out_trade_no":%q,"transaction_id":%q,"trade_state":%q,"amount":{"total":%d,"currency":"CNY"}}`,
		orderNo, txID, state, cents))
}

func balanceOf(t *testing.T, e *testEnv, userID int64) decimal.Decimal {
	t.Helper()
	u, err := e.store.Users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func ledgerCount(t *testing.T, e *testEnv, orderNo string) int64 {
	t.Helper()
	n, err := e.store.Transactions.CountByOrderNo(context.Background(), orderNo)
	require.NoError(t, err)
	return n
}

func TestCreateOrder(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")

	res, err := svc.CreateOrder(context.Background(), user.ID, decimal.NewFromInt(100), model.PayMethodAlipay)
	require.NoError(t, err)

	assert.NotZero(t, res.OrderID)
	assert.Regexp(t, `^RC\d{19}$`, res.OrderNo)
	assert.Equal(t, model.OrderStatusPending, res.Status)
	assert.Contains(t, res.PayURL, "/mock-alipay-pay?")
	assert.Contains(t, res.PayURL, "out_trade_no="+res.OrderNo)

	order, err := e.store.Orders.GetByOrderNo(context.Background(), res.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, user.ID, order.UserID)
	assert.True(t, order.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, e, user.ID).IsZero(), "creating an order never touches the balance")
}

func TestCreateOrder_Validation(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, user.ID, decimal.Zero, model.PayMethodAlipay)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(-5), model.PayMethodAlipay)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = svc.CreateOrder(ctx, user.ID, decimal.RequireFromString("1.001"), model.PayMethodAlipay)
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), "paypal")
	assert.ErrorIs(t, err, apperr.ErrInvalidMethod)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.CreateOrder(ctx, 9999, decimal.NewFromInt(1), model.PayMethodWechat)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	orders, err := svc.GetOrders(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrder_RetriesOnCollision(t *testing.T) {
	e := newTestEnv(t)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	sf, err := idgen.NewSnowflake(3)
	require.NoError(t, err)
	ids := &scriptedSerials{orderNos: []string{"RCFIXED", "RCFIXED"}, next: sf}
	svc := e.paymentService(t, ids)

	first, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), model.PayMethodAlipay)
	require.NoError(t, err)
	assert.Equal(t, "RCFIXED", first.OrderNo)

	second, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), model.PayMethodAlipay)
	require.NoError(t, err)
	assert.NotEqual(t, "RCFIXED", second.OrderNo)
	assert.NotEmpty(t, e.errorEntries(), "collision is logged")
}

func TestCreateOrder_CollisionExhausted(t *testing.T) {
	e := newTestEnv(t)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	sf, _ := idgen.NewSnowflake(4)
	ids := &scriptedSerials{orderNos: []string{"RCX", "RCX", "RCX", "RCX"}, next: sf}
	svc := e.paymentService(t, ids)

	_, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), model.PayMethodAlipay)
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), model.PayMethodAlipay)
	assert.ErrorIs(t, err, apperr.ErrOrderNoCollision)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
}

func TestCreateOrder_ConcurrentUniqueOrderNo(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	const n = 1000
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(1), model.PayMethodWechat)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[res.OrderNo] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	var count int64
	require.NoError(t, e.db.Model(&model.PaymentOrder{}).Count(&count).Error)
	assert.Equal(t, int64(n), count)
}

func TestHandleCallback_SettlesOnce(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(100), model.PayMethodAlipay)
	require.NoError(t, err)

	res, err := svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody(order.OrderNo, "2024001", "TRADE_SUCCESS", "100.00"))
	require.NoError(t, err)
	assert.Equal(t, MsgPaymentSucceeded, res.Message)
	assert.Equal(t, model.OrderStatusSuccess, res.Status)

	assert.True(t, balanceOf(t, e, user.ID).Equal(decimal.NewFromInt(100)))

	stored, err := e.store.Orders.GetByOrderNo(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSuccess, stored.Status)
	assert.Equal(t, "2024001", stored.TradeNo)
	assert.NotNil(t, stored.PayTime)

	var entry model.AccountTransaction
	require.NoError(t, e.db.Where("order_no = ?", order.OrderNo).First(&entry).Error)
	assert.Equal(t, model.TransactionTypeRecharge, entry.Type)
	assert.True(t, entry.BalanceBefore.IsZero())
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(100)))

	msgs, err := e.store.Outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "pay_result", msgs[0].Topic)
	assert.Equal(t, order.OrderNo, msgs[0].MessageKey)
	var event model.PaymentSettledEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &event))
	assert.Equal(t, "100.00", event.Amount)
	assert.Equal(t, "100.00", event.BalanceAfter)

	// 重复回调
	res, err = svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody(order.OrderNo, "2024001", "TRADE_FINISHED", "100"))
	require.NoError(t, err)
	assert.Equal(t, MsgAlreadyProcessed, res.Message)
	assert.True(t, balanceOf(t, e, user.ID).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), ledgerCount(t, e, order.OrderNo))
}

func TestHandleCallback_ConcurrentDuplicates(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "", "13800138000", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.RequireFromString("88.80"), model.PayMethodWechat)
	require.NoError(t, err)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.HandleCallback(ctx, model.PayMethodWechat, wechatBody(order.OrderNo, "wx-1", "SUCCESS", 8880))
			if !assert.NoError(t, err) {
				return
			}
			if res.Message == MsgPaymentSucceeded {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.True(t, balanceOf(t, e, user.ID).Equal(decimal.RequireFromString("88.80")))
	assert.Equal(t, int64(1), ledgerCount(t, e, order.OrderNo))

	msgs, err := e.store.Outbox.GetPendingMessages(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleCallback_AmountMismatch(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(100), model.PayMethodAlipay)
	require.NoError(t, err)
	e.hook.Reset()

	_, err = svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody(order.OrderNo, "T1", "TRADE_SUCCESS", "99.99"))
	assert.ErrorIs(t, err, apperr.ErrAmountMismatch)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	assert.NotEmpty(t, e.errorEntries(), "mismatch must be visible to operators")

	stored, err := e.store.Orders.GetByOrderNo(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
	assert.True(t, balanceOf(t, e, user.ID).IsZero())
	assert.Equal(t, int64(0), ledgerCount(t, e, order.OrderNo))
}

func TestHandleCallback_Closed(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(10), model.PayMethodWechat)
	require.NoError(t, err)

	res, err := svc.HandleCallback(ctx, model.PayMethodWechat, wechatBody(order.OrderNo, "wx-closed", "PAYERROR", 1000))
	require.NoError(t, err)
	assert.Equal(t, MsgPaymentFailed, res.Message)

	stored, err := e.store.Orders.GetByOrderNo(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, stored.Status)
	assert.Equal(t, "wx-closed", stored.TradeNo)

	// 终态不能再变成 success
	res, err = svc.HandleCallback(ctx, model.PayMethodWechat, wechatBody(order.OrderNo, "wx-late", "SUCCESS", 1000))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, res.Status)
	assert.Equal(t, MsgAlreadyProcessed, res.Message)
	assert.True(t, balanceOf(t, e, user.ID).IsZero())
	assert.Equal(t, int64(0), ledgerCount(t, e, order.OrderNo))
	assert.NotEmpty(t, e.errorEntries())
}

func TestHandleCallback_OtherStatusIsNoop(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(10), model.PayMethodAlipay)
	require.NoError(t, err)

	res, err := svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody(order.OrderNo, "", "WAIT_BUYER_PAY", "10.00"))
	require.NoError(t, err)
	assert.Equal(t, MsgCallbackAcked, res.Message)
	assert.Equal(t, model.OrderStatusPending, res.Status)
}

func TestHandleCallback_Errors(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	ctx := context.Background()

	_, err := svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody("RC404", "T", "TRADE_SUCCESS", "1.00"))
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	_, err = svc.HandleCallback(ctx, model.PayMethodWechat, []byte("not json"))
	assert.ErrorIs(t, err, apperr.ErrInvalidCallback)

	_, err = svc.HandleCallback(ctx, "unionpay", []byte("{}"))
	assert.ErrorIs(t, err, apperr.ErrInvalidMethod)
}

func TestGetOrders(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	owner := e.createUser(t, "owner", "owner@example.com", "", "pw")
	other := e.createUser(t, "other", "other@example.com", "", "pw")
	ctx := context.Background()

	var ids []int64
	for i := 1; i <= 3; i++ {
		res, err := svc.CreateOrder(ctx, owner.ID, decimal.NewFromInt(int64(i)), model.PayMethodAlipay)
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}

	orders, err := svc.GetOrders(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, ids[2], orders[0].ID, "newest first")
	assert.Equal(t, ids[0], orders[2].ID)

	detail, err := svc.GetOrderDetail(ctx, ids[0], owner.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], detail.ID)

	_, err = svc.GetOrderDetail(ctx, ids[0], other.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = svc.GetOrderDetail(ctx, 12345, owner.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestHandleCallback_RefusesSecondCreditForLedgeredOrder(t *testing.T) {
	e := newTestEnv(t)
	svc := e.paymentService(t, nil)
	user := e.createUser(t, "payer", "payer@example.com", "", "pw")
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, user.ID, decimal.NewFromInt(20), model.PayMethodAlipay)
	require.NoError(t, err)

	// 订单仍是 pending，但流水表里已经有这笔订单的入账记录
	require.NoError(t, e.store.Transactions.Create(ctx, &model.AccountTransaction{
		TransactionNo: "TXNSTRAY",
		UserID:        user.ID,
		OrderNo:       order.OrderNo,
		Amount:        decimal.NewFromInt(20),
		Type:          model.TransactionTypeRecharge,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.NewFromInt(20),
	}))

	_, err = svc.HandleCallback(ctx, model.PayMethodAlipay, alipayBody(order.OrderNo, "T-dup", "TRADE_SUCCESS", "20.00"))
	assert.ErrorIs(t, err, apperr.ErrAlreadyCredited)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))

	assert.True(t, balanceOf(t, e, user.ID).IsZero())
	assert.Equal(t, int64(1), ledgerCount(t, e, order.OrderNo))
	stored, err := e.store.Orders.GetByOrderNo(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
	assert.NotEmpty(t, e.errorEntries())
}
