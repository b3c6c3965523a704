// Package service implements the marketplace use cases on top of the domain
// store and ledger interfaces. Services hold no state of their own; all
// invariants live in the ledger transactions and the order state machine.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// Notifier delivers ops alerts. Implemented by notify.Notifier; services only
// need the filtered entry point.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AccountService handles wallet onboarding, balances, and money in/out.
type AccountService struct {
	accounts domain.AccountStore
	journal  domain.JournalStore
	ledger   domain.Ledger
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(
	accounts domain.AccountStore,
	journal domain.JournalStore,
	ledger domain.Ledger,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts: accounts,
		journal:  journal,
		ledger:   ledger,
		audit:    audit,
		logger:   logger.With(slog.String("component", "account_service")),
	}
}

// Connect registers a wallet on first contact and returns the account. A
// banned account can still be read but fails with ErrAccountBanned so the
// caller can surface the reason.
func (s *AccountService) Connect(ctx context.Context, wallet string) (domain.Account, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Account{}, err
	}

	acct, err := s.accounts.GetByWallet(ctx, w)
	switch {
	case err == nil:
		if acct.IsBanned {
			return acct, domain.ErrAccountBanned
		}
		if touchErr := s.accounts.TouchLastSeen(ctx, w); touchErr != nil {
			s.logger.WarnContext(ctx, "touch last seen failed",
				slog.String("wallet", w),
				slog.String("error", touchErr.Error()),
			)
		}
		return acct, nil
	case err == domain.ErrNotFound:
		created, createErr := s.accounts.Create(ctx, domain.Account{Wallet: w})
		if createErr == domain.ErrAlreadyExists {
			// Lost a concurrent first-connect race; the row exists now.
			return s.accounts.GetByWallet(ctx, w)
		}
		if createErr != nil {
			return domain.Account{}, fmt.Errorf("account_service: connect %s: %w", w, createErr)
		}
		s.logger.InfoContext(ctx, "account created", slog.String("wallet", w))
		return created, nil
	default:
		return domain.Account{}, fmt.Errorf("account_service: connect %s: %w", w, err)
	}
}

// Balance returns the balance read model for a wallet.
func (s *AccountService) Balance(ctx context.Context, wallet string) (domain.BalanceSnapshot, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.BalanceSnapshot{}, err
	}
	acct, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("account_service: balance %s: %w", w, err)
	}
	return acct.Snapshot(), nil
}

// Deposit credits a confirmed external transfer to the wallet's available
// balance. The tx hash must be unique across all deposits ever recorded.
func (s *AccountService) Deposit(ctx context.Context, wallet, txHash string, amountTicks int64) (domain.Account, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Account{}, err
	}
	if txHash == "" {
		return domain.Account{}, domain.Validationf("tx_hash", "required")
	}
	if amountTicks <= 0 {
		return domain.Account{}, domain.Validationf("amount", "must be positive")
	}

	acct, err := s.ledger.Deposit(ctx, w, txHash, amountTicks)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: deposit %s: %w", w, err)
	}

	s.logger.InfoContext(ctx, "deposit credited",
		slog.String("wallet", w),
		slog.Float64("amount", domain.USDT(amountTicks)),
	)
	return acct, nil
}

// Withdraw debits the amount plus the flat fee from available balance. Above
// the admin threshold the withdrawal parks as pending.
func (s *AccountService) Withdraw(ctx context.Context, wallet, toAddress string, amountTicks int64) (domain.Transaction, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return domain.Transaction{}, err
	}
	if _, err := domain.NormalizeWallet(toAddress); err != nil {
		return domain.Transaction{}, domain.Validationf("to_address", "not a valid address")
	}
	if amountTicks <= 0 {
		return domain.Transaction{}, domain.Validationf("amount", "must be positive")
	}

	acct, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("account_service: withdraw %s: %w", w, err)
	}
	if acct.IsBanned {
		return domain.Transaction{}, domain.ErrAccountBanned
	}

	entry, err := s.ledger.Withdraw(ctx, w, toAddress, amountTicks)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("account_service: withdraw %s: %w", w, err)
	}

	s.logger.InfoContext(ctx, "withdrawal requested",
		slog.String("wallet", w),
		slog.Float64("amount", domain.USDT(amountTicks)),
		slog.Bool("requires_admin", entry.RequiresAdmin),
	)
	return entry, nil
}

// Transactions returns the wallet's journal entries, newest first.
func (s *AccountService) Transactions(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error) {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.GetByWallet(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("account_service: transactions %s: %w", w, err)
	}
	txs, err := s.journal.ListByAccount(ctx, acct.ID, opts)
	if err != nil {
		return nil, fmt.Errorf("account_service: transactions %s: %w", w, err)
	}
	return txs, nil
}

// Ban soft-disables an account. Funds stay where they are; the account just
// cannot act any more.
func (s *AccountService) Ban(ctx context.Context, wallet string, banned bool, reason string) error {
	w, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return err
	}
	if w == domain.PlatformWallet {
		return domain.Validationf("wallet", "the platform account cannot be banned")
	}
	if err := s.accounts.SetBanned(ctx, w, banned, reason); err != nil {
		return fmt.Errorf("account_service: ban %s: %w", w, err)
	}

	if auditErr := s.audit.Log(ctx, "account_ban", map[string]any{
		"wallet": w,
		"banned": banned,
		"reason": reason,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("wallet", w),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account ban updated",
		slog.String("wallet", w),
		slog.Bool("banned", banned),
	)
	return nil
}
