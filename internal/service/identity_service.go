package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"walletauth/internal/apperr"
	"walletauth/internal/model"
	"walletauth/internal/repository"
	"walletauth/pkg/password"
	"walletauth/pkg/token"

	"github.com/sirupsen/logrus"
)

const (
	RegisterModeEmailCode = "email_code"
	RegisterModeSMSCode   = "sms_code"
)

type RegisterRequest struct {
	Mode       string
	Identifier string
	Code       string
	Username   string
	Password   string
	Avatar     string
	Bio        string
}

// LoginRequest 登录请求，只有下面三种实现
type LoginRequest interface {
	loginRequest()
}

// PasswordLogin 按 email、phone、username 的顺序查找，第一个命中的为准
type PasswordLogin struct {
	Email    string
	Phone    string
	Username string
	Password string
}

type EmailCodeLogin struct {
	Email string
	Code  string
}

type PhoneCodeLogin struct {
	Phone string
	Code  string
}

func (PasswordLogin) loginRequest()  {}
func (EmailCodeLogin) loginRequest() {}
func (PhoneCodeLogin) loginRequest() {}

type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      *model.PublicUser `json:"user"`
}

type IdentityService struct {
	users  *repository.UserRepository
	codes  CodeStore
	tokens *token.Manager
	log    logrus.FieldLogger
}

func NewIdentityService(users *repository.UserRepository, codes CodeStore, tokens *token.Manager, log logrus.FieldLogger) *IdentityService {
	return &IdentityService{
		users:  users,
		codes:  codes,
		tokens: tokens,
		log:    log,
	}
}

// Register 核销验证码后创建用户，不签发令牌
// 验证码在唯一性校验之前核销，注册失败后需要重新获取
func (s *IdentityService) Register(ctx context.Context, req RegisterRequest) (*model.PublicUser, error) {
	var purpose string
	switch req.Mode {
	case RegisterModeEmailCode:
		purpose = PurposeEmailLogin
	case RegisterModeSMSCode:
		purpose = PurposeSMSLogin
	default:
		return nil, apperr.ErrInvalidParam.WithMsg("unknown register mode")
	}
	if req.Identifier == "" || req.Code == "" || req.Username == "" || req.Password == "" {
		return nil, apperr.ErrInvalidParam.WithMsg("identifier, code, username and password are required")
	}
	if err := validateIdentifier(purpose, req.Identifier); err != nil {
		return nil, err
	}
	// 必须在核销验证码之前检查，否则合法请求会白白消耗验证码
	if password.TooLong(req.Password) {
		return nil, apperr.ErrInvalidParam.WithMsg(fmt.Sprintf("password must be at most %d bytes", password.MaxBytes))
	}

	if err := s.redeem(ctx, purpose, req.Identifier, req.Code); err != nil {
		return nil, err
	}

	user := &model.User{
		Username: req.Username,
		Avatar:   req.Avatar,
		Bio:      req.Bio,
	}
	if purpose == PurposeEmailLogin {
		user.Email = model.NullableString(req.Identifier)
	} else {
		user.Phone = model.NullableString(req.Identifier)
	}

	exists, err := s.users.ExistsByIdentity(ctx, req.Username, stringValue(user.Email), stringValue(user.Phone))
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	if exists {
		return nil, apperr.ErrAlreadyRegistered
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	user.PasswordHash = hash

	if err := s.users.Create(ctx, user); err != nil {
		// 并发注册同一账号，由唯一索引兜底
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperr.ErrAlreadyRegistered
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"mode":    req.Mode,
	}).Info("用户注册成功")
	return user.Public(), nil
}

// Login 三种登录方式最终都签发同样的令牌
func (s *IdentityService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var (
		user *model.User
		err  error
	)

	switch r := req.(type) {
	case PasswordLogin:
		user, err = s.loginByPassword(ctx, r)
	case EmailCodeLogin:
		user, err = s.loginByCode(ctx, PurposeEmailLogin, r.Email, r.Code, s.users.GetByEmail)
	case PhoneCodeLogin:
		user, err = s.loginByCode(ctx, PurposeSMSLogin, r.Phone, r.Code, s.users.GetByPhone)
	default:
		return nil, apperr.ErrInvalidParam.WithMsg("unsupported login type")
	}
	if err != nil {
		return nil, err
	}

	signed, expiresAt, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}

	return &LoginResult{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      user.Public(),
	}, nil
}

func (s *IdentityService) loginByPassword(ctx context.Context, r PasswordLogin) (*model.User, error) {
	if r.Password == "" || (r.Email == "" && r.Phone == "" && r.Username == "") {
		return nil, apperr.ErrInvalidParam.WithMsg("identifier and password are required")
	}

	lookups := []struct {
		value string
		find  func(context.Context, string) (*model.User, error)
	}{
		{r.Email, s.users.GetByEmail},
		{r.Phone, s.users.GetByPhone},
		{r.Username, s.users.GetByUsername},
	}

	var user *model.User
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		u, err := l.find(ctx, l.value)
		if errors.Is(err, repository.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.ErrInternal.Wrap(err)
		}
		user = u
		break
	}
	if user == nil {
		return nil, apperr.ErrUserNotFound
	}

	if !password.Compare(r.Password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}

func (s *IdentityService) loginByCode(ctx context.Context, purpose, identifier, code string,
	find func(context.Context, string) (*model.User, error)) (*model.User, error) {
	if strings.TrimSpace(identifier) == "" || code == "" {
		return nil, apperr.ErrInvalidParam.WithMsg("identifier and code are required")
	}

	if err := s.redeem(ctx, purpose, identifier, code); err != nil {
		return nil, err
	}

	user, err := find(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}
	return user, nil
}

func (s *IdentityService) redeem(ctx context.Context, purpose, identifier, code string) error {
	ok, err := s.codes.Redeem(ctx, purpose, identifier, code)
	if err != nil {
		return apperr.ErrInternal.Wrap(fmt.Errorf("redeem code: %w", err))
	}
	if !ok {
		return apperr.ErrInvalidOrExpiredCode
	}
	return nil
}

// ParseToken 供鉴权中间件使用
func (s *IdentityService) ParseToken(tokenString string) (*token.Claims, error) {
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return nil, apperr.ErrUnauthorized.Wrap(err)
	}
	return claims, nil
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
