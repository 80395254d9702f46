package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"offramp_go/internal/clock"
	"offramp_go/internal/domain"
	"offramp_go/internal/infra"

	"github.com/google/uuid"
)

// FlowStep is the current screen of the bank-details flow.
type FlowStep string

const (
	StepSelect FlowStep = "select"
	StepVerify FlowStep = "verify"
	StepSign   FlowStep = "sign"
)

// verificationSubject scopes the attempt limiter to the single local session.
const verificationSubject = "account-verification"

// BankDetailFlow attaches a verified bank account to an order and collects the
// wallet authorization. Step state is kept per order id.
type BankDetailFlow struct {
	orders   *OrderStore
	accounts domain.AccountStore
	resolver domain.AccountResolver
	limiter  domain.AttemptLimiter
	clock    clock.Clock
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	steps map[string]FlowStep
}

func NewBankDetailFlow(
	orders *OrderStore,
	accounts domain.AccountStore,
	resolver domain.AccountResolver,
	limiter domain.AttemptLimiter,
	clk clock.Clock,
) *BankDetailFlow {
	return &BankDetailFlow{
		orders:   orders,
		accounts: accounts,
		resolver: resolver,
		limiter:  limiter,
		clock:    clk,
		metrics:  infra.GlobalMetrics,
		logger:   slog.Default().With(slog.String("module", "bank_flow")),
		steps:    make(map[string]FlowStep),
	}
}

// Step returns the current step, deriving it from the order on first use.
func (f *BankDetailFlow) Step(ctx context.Context, orderID string) (FlowStep, error) {
	order, err := f.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	step, ok := f.steps[orderID]
	f.mu.Unlock()
	if ok {
		return step, nil
	}

	if order.Status == domain.StatusPendingSignature && order.BankDetails != nil {
		step = StepSign
	} else {
		saved, err := f.accounts.LoadAccounts(ctx)
		if err != nil {
			return "", err
		}
		step = StepVerify
		if len(saved) > 0 {
			step = StepSelect
		}
	}
	f.setStep(orderID, step)
	return step, nil
}

func (f *BankDetailFlow) setStep(orderID string, step FlowStep) {
	f.mu.Lock()
	f.steps[orderID] = step
	f.mu.Unlock()
}

// SavedAccounts returns the stored accounts, most recent first.
func (f *BankDetailFlow) SavedAccounts(ctx context.Context) ([]domain.SavedAccount, error) {
	return f.accounts.LoadAccounts(ctx)
}

// DeleteSavedAccount removes one saved account.
func (f *BankDetailFlow) DeleteSavedAccount(ctx context.Context, id string) error {
	saved, err := f.accounts.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	kept := saved[:0]
	found := false
	for _, a := range saved {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return f.accounts.SaveAccounts(ctx, kept)
}

// UseSavedAccount attaches a saved account and moves on to signing.
func (f *BankDetailFlow) UseSavedAccount(ctx context.Context, orderID, accountID string) (*domain.OfframpOrder, error) {
	step, err := f.Step(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if step == StepSign {
		return nil, domain.ErrWrongStep
	}

	saved, err := f.accounts.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var acct *domain.SavedAccount
	for i := range saved {
		if saved[i].ID == accountID {
			acct = &saved[i]
			break
		}
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountID)
	}

	order, err := f.attach(ctx, orderID, acct.Details())
	if err != nil {
		return nil, err
	}
	if _, err := f.remember(ctx, acct.Details()); err != nil {
		f.logger.Warn("Failed to update saved accounts", slog.Any("error", err))
	}
	return order, nil
}

// AddNewAccount switches from the saved-account list to manual entry.
func (f *BankDetailFlow) AddNewAccount(ctx context.Context, orderID string) error {
	step, err := f.Step(ctx, orderID)
	if err != nil {
		return err
	}
	if step != StepSelect {
		return domain.ErrWrongStep
	}
	f.setStep(orderID, StepVerify)
	return nil
}

// Verify resolves the account holder, saves the account and attaches it to the order.
func (f *BankDetailFlow) Verify(ctx context.Context, orderID, bankCode, accountNumber string) (*domain.OfframpOrder, error) {
	step, err := f.Step(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if step == StepSign {
		return nil, domain.ErrWrongStep
	}

	bank, ok := domain.FindBank(bankCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBank, bankCode)
	}
	if !domain.ValidAccountNumber(accountNumber) {
		return nil, domain.ErrInvalidAccountNumber
	}

	allowed, err := f.limiter.Allow(ctx, verificationSubject)
	if err != nil {
		return nil, fmt.Errorf("check verification limit: %w", err)
	}
	if !allowed {
		f.logger.Warn("Verification rate limit hit", slog.String("order_id", orderID))
		return nil, domain.ErrRateLimited
	}

	name, err := f.resolver.ResolveAccount(ctx, bank.Code, accountNumber)
	if err != nil {
		f.metrics.RecordVerificationFailure()
		f.logger.Warn("Account verification failed",
			slog.String("order_id", orderID),
			slog.String("bank_code", bank.Code),
			slog.Any("error", err),
		)
		return nil, &domain.VerificationError{
			BankCode:      bank.Code,
			AccountNumber: accountNumber,
			Reason:        "could not resolve account holder",
			Err:           err,
		}
	}

	details := domain.BankDetails{
		BankName:      bank.Name,
		BankCode:      bank.Code,
		AccountNumber: accountNumber,
		AccountName:   name,
	}
	order, err := f.attach(ctx, orderID, details)
	if err != nil {
		return nil, err
	}
	if _, err := f.remember(ctx, details); err != nil {
		f.logger.Warn("Failed to save verified account", slog.Any("error", err))
	}
	return order, nil
}

func (f *BankDetailFlow) attach(ctx context.Context, orderID string, details domain.BankDetails) (*domain.OfframpOrder, error) {
	order, err := f.orders.Update(ctx, orderID, domain.OrderPatch{
		BankDetails: &details,
		Status:      domain.StatusPtr(domain.StatusPendingSignature),
	})
	if err != nil {
		return nil, err
	}
	f.setStep(orderID, StepSign)
	return order, nil
}

// remember stores details at the head of the saved list. Entries with the same
// bank code and account number are replaced and the list is capped.
func (f *BankDetailFlow) remember(ctx context.Context, details domain.BankDetails) (domain.SavedAccount, error) {
	saved, err := f.accounts.LoadAccounts(ctx)
	if err != nil {
		return domain.SavedAccount{}, err
	}

	entry := domain.SavedAccount{
		ID:            uuid.NewString(),
		BankName:      details.BankName,
		BankCode:      details.BankCode,
		AccountNumber: details.AccountNumber,
		AccountName:   details.AccountName,
		LastUsed:      f.clock.Now(),
	}
	next := []domain.SavedAccount{entry}
	for _, a := range saved {
		if a.BankCode == details.BankCode && a.AccountNumber == details.AccountNumber {
			entry.ID = a.ID
			next[0].ID = a.ID
			continue
		}
		next = append(next, a)
	}
	if len(next) > domain.MaxSavedAccounts {
		next = next[:domain.MaxSavedAccounts]
	}
	if err := f.accounts.SaveAccounts(ctx, next); err != nil {
		return domain.SavedAccount{}, err
	}
	return entry, nil
}

// Sign asks the wallet to authorize the payout and records the signature.
func (f *BankDetailFlow) Sign(ctx context.Context, orderID string, wallet domain.Wallet) (*domain.OfframpOrder, error) {
	order, err := f.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusPendingSignature || order.BankDetails == nil {
		return nil, domain.ErrWrongStep
	}
	if order.LockExpired(f.clock.Now()) {
		if _, err := f.orders.Expire(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s", domain.ErrOrderExpired, orderID)
	}
	if !wallet.IsConnected() {
		return nil, domain.ErrWalletNotConnected
	}

	msg := domain.AuthorizationMessage(order.Fees.ReceiveAmount, order.BankDetails.AccountNumber)
	sig, err := wallet.SignMessage(ctx, msg, wallet.PublicKey())
	if err != nil {
		if errors.Is(err, domain.ErrSigningCancelled) {
			f.metrics.RecordSigningCancelled()
			f.logger.Info("Signing cancelled by user", slog.String("order_id", orderID))
		} else {
			f.logger.Warn("Signing failed", slog.String("order_id", orderID), slog.Any("error", err))
		}
		return nil, signingError(err)
	}

	return f.orders.Update(ctx, orderID, domain.OrderPatch{
		Signature:     domain.StringPtr(sig),
		SourceAddress: domain.StringPtr(wallet.PublicKey()),
	})
}

// signingError keeps cancellation as is and reports every other wallet
// failure as ErrSigningFailed, whatever the wallet returned.
func signingError(err error) error {
	if errors.Is(err, domain.ErrSigningCancelled) || errors.Is(err, domain.ErrSigningFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
}

// Back returns to the previous step. Leaving the sign step keeps the attached
// details until new ones replace them.
func (f *BankDetailFlow) Back(ctx context.Context, orderID string) (FlowStep, error) {
	step, err := f.Step(ctx, orderID)
	if err != nil {
		return "", err
	}
	saved, err := f.accounts.LoadAccounts(ctx)
	if err != nil {
		return "", err
	}

	switch step {
	case StepSign:
		step = StepVerify
		if len(saved) > 0 {
			step = StepSelect
		}
	case StepVerify:
		if len(saved) == 0 {
			return step, domain.ErrWrongStep
		}
		step = StepSelect
	default:
		return step, domain.ErrWrongStep
	}
	f.setStep(orderID, step)
	return step, nil
}

// Forget drops the step state of a finished order.
func (f *BankDetailFlow) Forget(orderID string) {
	f.mu.Lock()
	delete(f.steps, orderID)
	f.mu.Unlock()
}
