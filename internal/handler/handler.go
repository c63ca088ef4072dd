package handler

import (
	"strconv"

	"walletauth/internal/apperr"
	"walletauth/internal/model"
	"walletauth/internal/service"
	"walletauth/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	verification *service.VerificationService
	identity     *service.IdentityService
	account      *service.AccountService
	payment      *service.PaymentService
}

func NewHandler(
	verification *service.VerificationService,
	identity *service.IdentityService,
	account *service.AccountService,
	payment *service.PaymentService,
) *Handler {
	return &Handler{
		verification: verification,
		identity:     identity,
		account:      account,
		payment:      payment,
	}
}

// ============================================================
// 验证码
// ============================================================

type SendEmailCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

// SendEmailCode 发送邮箱验证码
// POST /api/v1/auth/email/code
func (h *Handler) SendEmailCode(c *gin.Context) {
	var req SendEmailCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	if _, err := h.verification.Issue(c.Request.Context(), service.PurposeEmailLogin, req.Email); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "验证码已发送"})
}

type SendSMSCodeRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// SendSMSCode 发送短信验证码
// POST /api/v1/auth/sms/code
func (h *Handler) SendSMSCode(c *gin.Context) {
	var req SendSMSCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	if _, err := h.verification.Issue(c.Request.Context(), service.PurposeSMSLogin, req.Phone); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "验证码已发送"})
}

// ============================================================
// 注册登录
// ============================================================

type RegisterRequest struct {
	Mode       string `json:"mode" binding:"required,oneof=email_code sms_code"`
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required,len=6,numeric"`
	Username   string `json:"username" binding:"required,max=100"`
	Password   string `json:"password" binding:"required,min=6,max=72"`
	Avatar     string `json:"avatar" binding:"max=1000"`
	Bio        string `json:"bio" binding:"max=1000"`
}

// Register 注册，不返回令牌
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	user, err := h.identity.Register(c.Request.Context(), service.RegisterRequest{
		Mode:       req.Mode,
		Identifier: req.Identifier,
		Code:       req.Code,
		Username:   req.Username,
		Password:   req.Password,
		Avatar:     req.Avatar,
		Bio:        req.Bio,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"message": "注册成功",
		"user":    user,
	})
}

// 登录方式
const (
	LoginTypePassword  = "password"
	LoginTypeEmailCode = "email_code"
	LoginTypePhoneCode = "phone_code"
)

// LoginRequest 由 type 字段决定使用哪种登录方式
type LoginRequest struct {
	Type     string `json:"type" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (r LoginRequest) toVariant() service.LoginRequest {
	switch r.Type {
	case LoginTypePassword:
		return service.PasswordLogin{Email: r.Email, Phone: r.Phone, Username: r.Username, Password: r.Password}
	case LoginTypeEmailCode:
		return service.EmailCodeLogin{Email: r.Email, Code: r.Code}
	case LoginTypePhoneCode:
		return service.PhoneCodeLogin{Phone: r.Phone, Code: r.Code}
	}
	return nil
}

// Login 登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	result, err := h.identity.Login(c.Request.Context(), req.toVariant())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"message":    "登录成功",
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user":       result.User,
	})
}

// ============================================================
// 账户
// ============================================================

// Profile 当前用户信息
// GET /api/v1/account/profile
func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.account.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, profile)
}

type TransactionsQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}

// Transactions 账户流水
// GET /api/v1/account/transactions?page=1&page_size=20
func (h *Handler) Transactions(c *gin.Context) {
	var q TransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	result, err := h.account.Transactions(c.Request.Context(), currentUserID(c), q.Page, q.PageSize)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 充值
// ============================================================

// RechargeRequest 金额单位为元，支持数字或字符串
type RechargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" binding:"required"`
}

// Recharge 创建充值订单
// POST /api/v1/payment/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apperr.ErrInvalidParam.Wrap(err))
		return
	}

	result, err := h.payment.CreateOrder(c.Request.Context(), currentUserID(c), req.Amount, req.Method)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// AlipayCallback 支付宝异步通知
// POST /api/v1/payment/alipay/callback
func (h *Handler) AlipayCallback(c *gin.Context) {
	h.callback(c, model.PayMethodAlipay)
}

// WechatCallback 微信支付回调
// POST /api/v1/payment/wechat/callback
func (h *Handler) WechatCallback(c *gin.Context) {
	h.callback(c, model.PayMethodWechat)
}

func (h *Handler) callback(c *gin.Context, method string) {
	raw, err := c.GetRawData()
	if err != nil {
		response.Fail(c, apperr.ErrInvalidCallback.Wrap(err))
		return
	}

	result, err := h.payment.HandleCallback(c.Request.Context(), method, raw)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListOrders 当前用户的充值订单
// GET /api/v1/payment/orders
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.payment.GetOrders(c.Request.Context(), currentUserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": orders})
}

// GetOrder 订单详情，只能查看自己的订单
// GET /api/v1/payment/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		response.Fail(c, apperr.ErrInvalidParam.WithMsg("invalid order id"))
		return
	}

	order, err := h.payment.GetOrderDetail(c.Request.Context(), orderID, currentUserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, order)
}
