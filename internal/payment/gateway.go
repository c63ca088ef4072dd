package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"walletauth/internal/model"

	"github.com/shopspring/decimal"
)

// 回调中的交易状态，统一成三类
const (
	TradeSuccess = "success"
	TradeClosed  = "closed"
	TradeOther   = "other"
)

var ErrMalformedPayload = errors.New("回调报文格式错误")

// Notification 解析后的回调通知，金额统一为元
type Notification struct {
	OrderNo string
	TradeNo string
	Status  string
	Amount  decimal.Decimal
	Raw     string // 原始状态值，用于日志
}

// Gateway 支付渠道适配
type Gateway interface {
	Method() string
	PayURL(orderNo string, amount decimal.Decimal, subject string) string
	ParseNotification(raw []byte) (*Notification, error)
}

// Registry 按支付方式查找渠道
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method string) (Gateway, bool) {
	g, ok := r.gateways[method]
	return g, ok
}

func payURL(appURL, method string, params url.Values) string {
	return fmt.Sprintf("%s/mock-%s-pay?%s", strings.TrimRight(appURL, "/"), method, params.Encode())
}

// AlipayGateway 支付宝
// 异步通知为 form 表单，金额单位为元
type AlipayGateway struct {
	appURL string
}

func NewAlipayGateway(appURL string) *AlipayGateway {
	return &AlipayGateway{appURL: appURL}
}

func (g *AlipayGateway) Method() string { return model.PayMethodAlipay }

func (g *AlipayGateway) PayURL(orderNo string, amount decimal.Decimal, subject string) string {
	params := url.Values{}
	params.Set("out_trade_no", orderNo)
	params.Set("total_amount", amount.StringFixed(2))
	params.Set("subject", subject)
	return payURL(g.appURL, g.Method(), params)
}

type alipayNotify struct {
	OutTradeNo  string `json:"out_trade_no"`
	TradeNo     string `json:"trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

// ParseNotification 同时接受 form 表单和 JSON
func (g *AlipayGateway) ParseNotification(raw []byte) (*Notification, error) {
	var n alipayNotify
	body := strings.TrimSpace(string(raw))
	if strings.HasPrefix(body, "{") {
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	} else {
		values, err := url.ParseQuery(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		n = alipayNotify{
			OutTradeNo:  values.Get("out_trade_no"),
			TradeNo:     values.Get("trade_no"),
			TradeStatus: values.Get("trade_status"),
			TotalAmount: values.Get("total_amount"),
		}
	}

	if n.OutTradeNo == "" || n.TotalAmount == "" {
		return nil, fmt.Errorf("%w: 缺少 out_trade_no 或 total_amount", ErrMalformedPayload)
	}
	amount, err := decimal.NewFromString(n.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: total_amount=%q", ErrMalformedPayload, n.TotalAmount)
	}

	status := TradeOther
	switch n.TradeStatus {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		status = TradeSuccess
	case "TRADE_CLOSED":
		status = TradeClosed
	}

	return &Notification{
		OrderNo: n.OutTradeNo,
		TradeNo: n.TradeNo,
		Status:  status,
		Amount:  amount,
		Raw:     n.TradeStatus,
	}, nil
}

// WechatGateway 微信支付
// 回调为 JSON，金额单位为分
type WechatGateway struct {
	appURL string
}

func NewWechatGateway(appURL string) *WechatGateway {
	return &WechatGateway{appURL: appURL}
}

func (g *WechatGateway) Method() string { return model.PayMethodWechat }

func (g *WechatGateway) PayURL(orderNo string, amount decimal.Decimal, subject string) string {
	params := url.Values{}
	params.Set("out_trade_no", orderNo)
	params.Set("total_amount", amount.StringFixed(2))
	params.Set("description", subject)
	return payURL(g.appURL, g.Method(), params)
}

type wechatNotify struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        *struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (g *WechatGateway) ParseNotification(raw []byte) (*Notification, error) {
	var n wechatNotify
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n.OutTradeNo == "" || n.Amount == nil {
		return nil, fmt.Errorf("%w: 缺少 out_trade_no 或 amount", ErrMalformedPayload)
	}

	status := TradeOther
	switch n.TradeState {
	case "SUCCESS":
		status = TradeSuccess
	case "CLOSED", "PAYERROR":
		status = TradeClosed
	}

	return &Notification{
		OrderNo: n.OutTradeNo,
		TradeNo: n.TransactionID,
		Status:  status,
		Amount:  decimal.New(n.Amount.Total, -2),
		Raw:     n.TradeState,
	}, nil
}
