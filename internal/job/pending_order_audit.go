package job

import (
	"context"
	"time"

	"walletauth/internal/repository"

	"github.com/sirupsen/logrus"
)

// PendingOrderAudit 定期列出长时间未回调的订单，交给人工对账
// 只读，不修改订单状态：支付渠道的回调可能晚到
type PendingOrderAudit struct {
	orders    *repository.OrderRepository
	threshold time.Duration
	log       logrus.FieldLogger
	interval  time.Duration
	batchSize int
}

func NewPendingOrderAudit(orders *repository.OrderRepository, threshold time.Duration, log logrus.FieldLogger) *PendingOrderAudit {
	return &PendingOrderAudit{
		orders:    orders,
		threshold: threshold,
		log:       log.WithField("job", "PendingOrderAudit"),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *PendingOrderAudit) Start(ctx context.Context) {
	j.log.Info("待支付订单巡检任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.audit(ctx)
		}
	}
}

// audit 返回本次发现的订单数
func (j *PendingOrderAudit) audit(ctx context.Context) int {
	before := time.Now().Add(-j.threshold)
	orders, err := j.orders.GetPendingOrders(ctx, before, j.batchSize)
	if err != nil {
		j.log.WithError(err).Error("查询待支付订单失败")
		return 0
	}

	for _, order := range orders {
		j.log.WithFields(logrus.Fields{
			"order_no":    order.OrderNo,
			"user_id":     order.UserID,
			"amount":      order.Amount.StringFixed(2),
			"method":      order.Method,
			"create_time": order.CreateTime.Format(time.RFC3339),
		}).Warn("订单长时间未收到支付回调")
	}
	return len(orders)
}
