package wallet

import (
	"context"
	"math/big"
)

// AccountStore abstracts repository operations for the service.
type AccountStore interface {
	GetByAddress(ctx context.Context, address string) (Account, error)
	List(ctx context.Context, limit int) ([]Account, error)
	Deposit(ctx context.Context, address string, amount *big.Int) (Account, error)
	SetAcceptsFunds(ctx context.Context, address string, accepts bool) (Account, error)
}

// Reservations tells custody accounts apart from personal ones.
type Reservations interface {
	IsReserved(ctx context.Context, address string) (bool, error)
}

// Service exposes balance operations callers may invoke directly. Custody
// accounts are moved only by pool operations, never through here.
type Service struct {
	repo     AccountStore
	reserved Reservations
}

// NewService builds a Service using the provided repository.
func NewService(repo AccountStore, reserved Reservations) *Service {
	return &Service{repo: repo, reserved: reserved}
}

// GetByAddress returns the account for the given address.
func (s *Service) GetByAddress(ctx context.Context, address string) (Account, error) {
	return s.repo.GetByAddress(ctx, address)
}

// List returns up to limit accounts.
func (s *Service) List(ctx context.Context, limit int) ([]Account, error) {
	return s.repo.List(ctx, limit)
}

// Deposit tops up an account.
func (s *Service) Deposit(ctx context.Context, address string, amount *big.Int) (Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Account{}, ErrInvalidAmount
	}
	if err := s.checkPersonal(ctx, address); err != nil {
		return Account{}, err
	}
	return s.repo.Deposit(ctx, address, amount)
}

// SetAcceptsFunds controls whether the account may receive payouts.
func (s *Service) SetAcceptsFunds(ctx context.Context, address string, accepts bool) (Account, error) {
	if err := s.checkPersonal(ctx, address); err != nil {
		return Account{}, err
	}
	return s.repo.SetAcceptsFunds(ctx, address, accepts)
}

func (s *Service) checkPersonal(ctx context.Context, address string) error {
	reserved, err := s.reserved.IsReserved(ctx, address)
	if err != nil {
		return err
	}
	if reserved {
		return ErrReservedAddress
	}
	return nil
}
