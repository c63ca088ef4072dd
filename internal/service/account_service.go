package service

import (
	"context"
	"errors"

	"walletauth/internal/apperr"
	"walletauth/internal/model"
	"walletauth/internal/repository"
)

type AccountService struct {
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
}

func NewAccountService(users *repository.UserRepository, transactions *repository.TransactionRepository) *AccountService {
	return &AccountService{
		users:        users,
		transactions: transactions,
	}
}

// Profile 当前用户信息，含余额
func (s *AccountService) Profile(ctx context.Context, userID int64) (*model.PublicUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, apperr.ErrInternal.Wrap(err)
	}
	return user.Public(), nil
}

type TransactionPage struct {
	Items    []*model.AccountTransaction `json:"items"`
	Total    int64                       `json:"total"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
}

// Transactions 账户流水，按时间倒序分页
func (s *AccountService) Transactions(ctx context.Context, userID int64, page, pageSize int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := s.transactions.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, apperr.ErrInternal.Wrap(err)
	}
	return &TransactionPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
