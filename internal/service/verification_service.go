package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"time"

	"walletauth/internal/apperr"
	"walletauth/internal/config"
	"walletauth/internal/notify"

	"github.com/sirupsen/logrus"
)

// 验证码用途，注册和登录共用
const (
	PurposeEmailLogin = "email_login"
	PurposeSMSLogin   = "sms_login"
)

const codeLength = 6

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// CodeStore 验证码存储，由 cache.CodeCache 实现
type CodeStore interface {
	Put(ctx context.Context, purpose, identifier, code string, ttl time.Duration) error
	Redeem(ctx context.Context, purpose, identifier, candidate string) (bool, error)
	AcquireCooldown(ctx context.Context, purpose, identifier string, window time.Duration) (bool, error)
	ReleaseCooldown(ctx context.Context, purpose, identifier string) error
}

type VerificationService struct {
	codes       CodeStore
	dispatchers map[string]notify.Dispatcher
	cfg         config.VerificationConfig
	log         logrus.FieldLogger
}

func NewVerificationService(codes CodeStore, mailer, sms notify.Dispatcher, cfg config.VerificationConfig, log logrus.FieldLogger) *VerificationService {
	return &VerificationService{
		codes: codes,
		dispatchers: map[string]notify.Dispatcher{
			PurposeEmailLogin: mailer,
			PurposeSMSLogin:   sms,
		},
		cfg: cfg,
		log: log,
	}
}

// Issue 生成验证码并投递
// 投递失败时验证码仍然有效，冷却时间被释放，用户可以立即重发
func (s *VerificationService) Issue(ctx context.Context, purpose, identifier string) (string, error) {
	dispatcher, ok := s.dispatchers[purpose]
	if !ok {
		return "", apperr.ErrInvalidParam.WithMsg("unknown verification purpose")
	}
	if err := validateIdentifier(purpose, identifier); err != nil {
		return "", err
	}

	acquired, err := s.codes.AcquireCooldown(ctx, purpose, identifier, s.cfg.Cooldown())
	if err != nil {
		return "", apperr.ErrInternal.Wrap(fmt.Errorf("acquire cooldown: %w", err))
	}
	if !acquired {
		return "", apperr.ErrTooFrequent
	}

	code, err := generateCode()
	if err != nil {
		s.releaseCooldown(purpose, identifier)
		return "", apperr.ErrInternal.Wrap(err)
	}

	if err := s.codes.Put(ctx, purpose, identifier, code, s.cfg.CodeTTL()); err != nil {
		s.releaseCooldown(purpose, identifier)
		return "", apperr.ErrInternal.Wrap(fmt.Errorf("store code: %w", err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout())
	defer cancel()

	if err := dispatcher.Send(sendCtx, identifier, code); err != nil {
		s.releaseCooldown(purpose, identifier)
		s.log.WithError(err).WithFields(logrus.Fields{
			"purpose":    purpose,
			"identifier": identifier,
		}).Error("验证码投递失败")
		return "", apperr.ErrDeliveryFailed.Wrap(err)
	}

	s.log.WithFields(logrus.Fields{
		"purpose":    purpose,
		"identifier": identifier,
	}).Info("验证码已发送")
	return code, nil
}

func (s *VerificationService) releaseCooldown(purpose, identifier string) {
	// 请求的 ctx 可能已经超时
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.codes.ReleaseCooldown(ctx, purpose, identifier); err != nil {
		s.log.WithError(err).Warn("释放验证码冷却失败")
	}
}

func validateIdentifier(purpose, identifier string) error {
	switch purpose {
	case PurposeSMSLogin:
		if !phonePattern.MatchString(identifier) {
			return apperr.ErrInvalidParam.WithMsg("invalid phone number")
		}
	case PurposeEmailLogin:
		if !isEmail(identifier) {
			return apperr.ErrInvalidParam.WithMsg("invalid email address")
		}
	}
	return nil
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// generateCode 在 [0, 10^6) 上均匀取值，左侧补零
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}
