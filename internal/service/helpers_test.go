package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"walletauth/internal/config"
	"walletauth/internal/infrastructure/cache"
	"walletauth/internal/infrastructure/database"
	"walletauth/internal/model"
	"walletauth/internal/payment"
	"walletauth/internal/repository"
	"walletauth/pkg/idgen"
	"walletauth/pkg/password"
	"walletauth/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	store  *repository.Store
	uow    *repository.UnitOfWork
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	codes  *cache.CodeCache
	tokens *token.Manager
	log    *logrus.Logger
	hook   *test.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	return &testEnv{
		db:     db,
		store:  repository.NewStore(db),
		uow:    repository.NewUnitOfWork(db),
		mr:     mr,
		rdb:    rdb,
		codes:  cache.NewCodeCache(rdb),
		tokens: token.NewManager("test-secret", "walletauth", time.Hour),
		log:    log,
		hook:   hook,
	}
}

func testVerificationConfig() config.VerificationConfig {
	return config.VerificationConfig{
		CodeTTLSeconds:         300,
		CooldownSeconds:        60,
		DeliveryTimeoutSeconds: 1,
	}
}

func (e *testEnv) identityService() *IdentityService {
	return NewIdentityService(e.store.Users, e.codes, e.tokens, e.log)
}

func (e *testEnv) paymentService(t *testing.T, ids SerialGenerator) *PaymentService {
	t.Helper()
	if ids == nil {
		sf, err := idgen.NewSnowflake(1)
		require.NoError(t, err)
		ids = sf
	}
	gateways := payment.NewRegistry(
		payment.NewAlipayGateway("http://localhost:8080"),
		payment.NewWechatGateway("http://localhost:8080"),
	)
	return NewPaymentService(e.store, e.uow, e.rdb, gateways, ids, "pay_result", e.log)
}

func (e *testEnv) createUser(t *testing.T, username, email, phone, plain string) *model.User {
	t.Helper()
	hash, err := password.Hash(plain)
	require.NoError(t, err)

	user := &model.User{
		Username:     username,
		Email:        model.NullableString(email),
		Phone:        model.NullableString(phone),
		PasswordHash: hash,
	}
	require.NoError(t, e.store.Users.Create(context.Background(), user))
	return user
}

func (e *testEnv) errorEntries() []*logrus.Entry {
	var out []*logrus.Entry
	for _, entry := range e.hook.AllEntries() {
		if entry.Level <= logrus.ErrorLevel {
			out = append(out, entry)
		}
	}
	return out
}

// fakeDispatcher 记录投递内容，可配置失败
type fakeDispatcher struct {
	mu    sync.Mutex
	sent  map[string]string
	err   error
	block bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{sent: make(map[string]string)}
}

func (f *fakeDispatcher) Send(ctx context.Context, identifier, code string) error {
	f.mu.Lock()
	f.sent[identifier] = code
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeDispatcher) lastCode(identifier string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[identifier]
}

// scriptedSerials 先按顺序返回预设的订单号，用完后交给雪花算法
type scriptedSerials struct {
	mu       sync.Mutex
	orderNos []string
	next     *idgen.Snowflake
}

func (s *scriptedSerials) GenerateOrderNo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.orderNos) > 0 {
		no := s.orderNos[0]
		s.orderNos = s.orderNos[1:]
		return no
	}
	return s.next.GenerateOrderNo()
}

func (s *scriptedSerials) GenerateTransactionNo() string {
	return s.next.GenerateTransactionNo()
}
