package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
	"github.com/punchamoorthee/tuitionpay/internal/lock"
	"github.com/punchamoorthee/tuitionpay/internal/notify"
	"github.com/punchamoorthee/tuitionpay/internal/otp"
	"github.com/punchamoorthee/tuitionpay/internal/store"
)

// Locker takes a set of named leases together or not at all.
type Locker interface {
	AcquireAll(ctx context.Context, names ...string) (func(context.Context), error)
	TTL() time.Duration
}

// Challenges is the OTP challenge store.
type Challenges interface {
	Issue(ctx context.Context, txnID int64, code string) error
	Verify(ctx context.Context, txnID int64, submitted string) (otp.Result, error)
	Resend(ctx context.Context, txnID int64, code string) (int, error)
	State(ctx context.Context, txnID int64) (otp.State, error)
	Clear(ctx context.Context, txnID int64) error
	TTL() time.Duration
	MaxResends() int
}

// Options tunes a PaymentService. Zero values pick the defaults.
type Options struct {
	// CodeLength is the number of OTP digits.
	CodeLength int
	// ProcessingTimeout is how long a transaction may sit in PROCESSING
	// before the sweeper fails it.
	ProcessingTimeout time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// GenerateCode overrides OTP generation.
	GenerateCode func() (string, error)
}

// InitiateResult is returned by a successful Initiate.
type InitiateResult struct {
	TransactionID int64         `json:"transaction_id"`
	OTPTTL        time.Duration `json:"-"`
	TTLSeconds    int64         `json:"ttl_seconds"`
}

// ResendResult is returned by a successful ResendOTP.
type ResendResult struct {
	TTLSeconds      int64 `json:"ttl_seconds"`
	ResendCount     int   `json:"resend_count"`
	ResendRemaining int   `json:"resend_remaining"`
}

// ReconcileReport counts what one reconcile pass changed.
type ReconcileReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// PaymentService is the OTP-gated payment state machine. Every balance and
// bill mutation happens inside Confirm while both the payer lock and the
// bill lock are held.
type PaymentService struct {
	ledger     store.Ledger
	locks      Locker
	challenges Challenges
	notifier   notify.Notifier
	logger     *zap.Logger

	processingTimeout time.Duration
	now               func() time.Time
	generateCode      func() (string, error)
}

func NewPaymentService(
	ledger store.Ledger,
	locks Locker,
	challenges Challenges,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts Options,
) *PaymentService {
	if opts.CodeLength <= 0 {
		opts.CodeLength = otp.DefaultLength
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = locks.TTL()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GenerateCode == nil {
		n := opts.CodeLength
		opts.GenerateCode = func() (string, error) { return otp.GenerateCode(n) }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		ledger:            ledger,
		locks:             locks,
		challenges:        challenges,
		notifier:          notifier,
		logger:            logger,
		processingTimeout: opts.ProcessingTimeout,
		now:               opts.Now,
		generateCode:      opts.GenerateCode,
	}
}

// Initiate opens a PENDING_OTP transaction for the student's unpaid bill and
// issues an OTP to the payer.
func (s *PaymentService) Initiate(ctx context.Context, payerID int64, studentID, period string) (res *InitiateResult, err error) {
	defer func() { paymentsInitiated.WithLabelValues(outcome(err)).Inc() }()

	studentID = domain.NormalizeStudentID(studentID)
	if period == "" {
		period = domain.CurrentPeriod(s.now())
	}
	log := s.logger.With(zap.Int64("payer_id", payerID), zap.String("student_id", studentID), zap.String("period", period))

	release, err := s.lockPair(ctx, payerID, studentID, period)
	if err != nil {
		return nil, err
	}
	defer release()

	code, err := s.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	var (
		txn    *domain.Transaction
		bill   *domain.Bill
		payer  *domain.Account
		issued int64
	)
	err = s.ledger.RunInTx(ctx, func(q store.Queries) error {
		b, err := q.FindUnpaidBill(ctx, studentID, period)
		if err != nil {
			return notFound(err, ErrNotFound)
		}
		a, err := q.GetAccount(ctx, payerID)
		if err != nil {
			return notFound(err, ErrAccountNotFound)
		}
		if a.Balance.LessThan(b.Amount) {
			return ErrInsufficientFunds
		}
		// Checked in the same unit of work as the insert below.
		active, err := q.ListActiveTransactions(ctx, studentID, period)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return ErrConflict
		}

		now := s.now()
		t := &domain.Transaction{
			PayerID:     payerID,
			StudentID:   b.StudentID,
			Period:      b.Period,
			Amount:      b.Amount,
			Status:      domain.StatusPendingOTP,
			CreatedAt:   now,
			LeaseID:     uuid.NewString(),
			LeaseExpiry: now.Add(s.locks.TTL()),
		}
		if err := q.CreateTransaction(ctx, t); err != nil {
			return err
		}
		// The challenge exists before the row becomes visible, so a
		// concurrent reconcile never sees a PENDING_OTP row without one.
		issued = t.ID
		if err := s.challenges.Issue(ctx, t.ID, code); err != nil {
			return fmt.Errorf("issue otp: %w", err)
		}
		txn, bill, payer = t, b, a
		return nil
	})
	if err != nil {
		if issued != 0 {
			if cerr := s.challenges.Clear(context.WithoutCancel(ctx), issued); cerr != nil {
				log.Warn("otp clear after rollback failed", zap.Int64("transaction_id", issued), zap.Error(cerr))
			}
		}
		err = mapStoreErr(err)
		log.Info("initiate rejected", zap.Error(err))
		return nil, err
	}

	release()
	ttl := s.challenges.TTL()
	notify.Async(s.notifier, s.logger, notify.Message{
		Kind: notify.KindOTP, Payer: *payer, Transaction: *txn, Bill: *bill, Code: code, TTL: ttl,
	})
	log.Info("payment initiated", zap.Int64("transaction_id", txn.ID), zap.String("amount", txn.Amount.String()))
	return &InitiateResult{TransactionID: txn.ID, OTPTTL: ttl, TTLSeconds: int64(ttl / time.Second)}, nil
}

// Confirm checks the OTP and, if it matches, settles the bill: debit the
// payer, mark the bill paid and the transaction SUCCESS in one unit of work.
func (s *PaymentService) Confirm(ctx context.Context, payerID, txnID int64, code string) (rcpt *domain.Receipt, err error) {
	defer func() { paymentsConfirmed.WithLabelValues(outcome(err)).Inc() }()
	log := s.logger.With(zap.Int64("payer_id", payerID), zap.Int64("transaction_id", txnID))

	txn, err := s.ledger.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, notFound(err, ErrInvalidTransaction)
	}
	if txn.Status != domain.StatusPendingOTP || txn.PayerID != payerID {
		return nil, ErrInvalidTransaction
	}

	res, err := s.challenges.Verify(ctx, txn.ID, code)
	if err != nil {
		return nil, err
	}
	switch res {
	case otp.ResultExpired:
		s.markFailed(context.WithoutCancel(ctx), txn.ID)
		log.Info("otp expired, transaction failed")
		return nil, ErrOTPExpired
	case otp.ResultTooManyAttempts:
		return nil, ErrTooManyAttempts
	case otp.ResultMismatch:
		return nil, ErrOTPMismatch
	}

	release, err := s.lockPair(ctx, txn.PayerID, txn.StudentID, txn.Period)
	if err != nil {
		return nil, err
	}
	defer release()

	// A concurrent confirm may have finished between the first read and
	// taking the locks.
	txn, err = s.ledger.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, notFound(err, ErrInvalidTransaction)
	}
	if txn.Status != domain.StatusPendingOTP {
		return nil, ErrInvalidTransaction
	}

	now := s.now()
	if err := txn.TransitionTo(domain.StatusProcessing, now); err != nil {
		return nil, ErrInvalidTransaction
	}
	txn.LeaseID = uuid.NewString()
	txn.LeaseExpiry = now.Add(s.processingTimeout)
	if err := s.ledger.UpdateTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, ErrInvalidTransaction
		}
		return nil, err
	}

	// From here on the transaction must not be left in PROCESSING.
	settled := false
	defer func() {
		if !settled {
			s.markFailed(context.WithoutCancel(ctx), txn.ID)
		}
	}()

	var (
		payer *domain.Account
		bill  *domain.Bill
		done  domain.Transaction
	)
	err = s.ledger.RunInTx(ctx, func(q store.Queries) error {
		b, err := q.FindUnpaidBill(ctx, txn.StudentID, txn.Period)
		if err != nil {
			return notFound(err, ErrNotFound)
		}
		a, err := q.GetAccount(ctx, txn.PayerID)
		if err != nil {
			return notFound(err, ErrAccountNotFound)
		}
		if a.Balance.LessThan(txn.Amount) {
			return ErrInsufficientFunds
		}

		a.Balance = a.Balance.Sub(txn.Amount)
		if err := q.UpdateAccount(ctx, a); err != nil {
			return err
		}

		paidAt := s.now()
		today := time.Date(paidAt.Year(), paidAt.Month(), paidAt.Day(), 0, 0, 0, 0, paidAt.Location())
		b.Paid = true
		b.PaidDate = &today
		if err := q.UpdateBill(ctx, b); err != nil {
			return err
		}

		t := *txn
		if err := t.TransitionTo(domain.StatusSuccess, paidAt); err != nil {
			return err
		}
		if err := q.UpdateTransaction(ctx, &t); err != nil {
			return err
		}
		payer, bill, done = a, b, t
		return nil
	})
	if err != nil {
		err = mapStoreErr(err)
		log.Warn("confirm failed, transaction failed", zap.Error(err))
		return nil, err
	}
	settled = true

	if err := s.challenges.Clear(ctx, txnID); err != nil {
		log.Warn("otp clear failed", zap.Error(err))
	}
	release()
	notify.Async(s.notifier, s.logger, notify.Message{
		Kind: notify.KindConfirmation, Payer: *payer, Transaction: done, Bill: *bill,
	})
	log.Info("payment confirmed", zap.String("amount", done.Amount.String()))

	return &domain.Receipt{
		TransactionID: done.ID,
		StudentID:     done.StudentID,
		StudentName:   bill.StudentName,
		Period:        done.Period,
		Amount:        done.Amount,
		PayerName:     payer.FullName,
		CompletedAt:   *done.CompletedAt,
	}, nil
}

// ResendOTP issues a fresh code for a PENDING_OTP or EXPIRED transaction,
// subject to the resend cooldown and budget. Running out of budget fails the
// transaction.
func (s *PaymentService) ResendOTP(ctx context.Context, payerID, txnID int64) (res *ResendResult, err error) {
	defer func() { otpResends.WithLabelValues(outcome(err)).Inc() }()
	log := s.logger.With(zap.Int64("payer_id", payerID), zap.Int64("transaction_id", txnID))

	txn, err := s.ledger.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, notFound(err, ErrInvalidStatus)
	}
	if txn.Status != domain.StatusPendingOTP && txn.Status != domain.StatusExpired {
		return nil, ErrInvalidStatus
	}
	if txn.PayerID != payerID {
		return nil, ErrUnauthorized
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}
	count, err := s.challenges.Resend(ctx, txn.ID, code)
	switch {
	case errors.Is(err, otp.ErrResendBudgetExhausted):
		s.markFailed(context.WithoutCancel(ctx), txn.ID)
		log.Info("otp resend budget exhausted, transaction failed")
		return nil, ErrResendBudgetExhausted
	case err != nil:
		return nil, err
	}

	if txn.Status == domain.StatusExpired {
		if err := txn.TransitionTo(domain.StatusPendingOTP, s.now()); err != nil {
			return nil, ErrInvalidStatus
		}
		if err := s.ledger.UpdateTransaction(ctx, txn); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// Swept to FAILED between the read and now.
				_ = s.challenges.Clear(ctx, txn.ID)
				return nil, ErrInvalidStatus
			}
			return nil, err
		}
	}

	payer, perr := s.ledger.GetAccount(ctx, txn.PayerID)
	bill, berr := s.ledger.FindBill(ctx, txn.StudentID, txn.Period)
	if perr == nil && berr == nil {
		notify.Async(s.notifier, s.logger, notify.Message{
			Kind: notify.KindOTP, Payer: *payer, Transaction: *txn, Bill: *bill, Code: code, TTL: s.challenges.TTL(),
		})
	} else {
		log.Warn("resend notification skipped", zap.NamedError("payer_error", perr), zap.NamedError("bill_error", berr))
	}

	remaining := s.challenges.MaxResends() - count
	if remaining < 0 {
		remaining = 0
	}
	log.Info("otp resent", zap.Int("resend_count", count))
	return &ResendResult{
		TTLSeconds:      int64(s.challenges.TTL() / time.Second),
		ResendCount:     count,
		ResendRemaining: remaining,
	}, nil
}

// ReconcileExpired fails transactions whose OTP challenge has lapsed and
// PROCESSING transactions whose lease ran out. A PENDING_OTP transaction
// whose code was invalidated but whose resend window is still open moves
// to EXPIRED instead, so a resend can revive it.
func (s *PaymentService) ReconcileExpired(ctx context.Context) (ReconcileReport, error) {
	txns, err := s.ledger.ListTransactionsByStatus(ctx,
		domain.StatusPendingOTP, domain.StatusExpired, domain.StatusProcessing)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list open transactions: %w", err)
	}
	return s.reconcile(ctx, txns), nil
}

// reconcile applies the expiry rules to txns, which must be snapshots of
// non-terminal transactions.
func (s *PaymentService) reconcile(ctx context.Context, txns []domain.Transaction) ReconcileReport {
	report := ReconcileReport{Scanned: len(txns)}
	now := s.now()
	for i := range txns {
		t := &txns[i]
		log := s.logger.With(zap.Int64("transaction_id", t.ID), zap.String("status", string(t.Status)))

		var to domain.Status
		switch t.Status {
		case domain.StatusProcessing:
			if !now.After(t.LeaseExpiry) {
				continue
			}
			to = domain.StatusFailed
		default:
			st, err := s.challenges.State(ctx, t.ID)
			if err != nil {
				log.Warn("otp state lookup failed", zap.Error(err))
				continue
			}
			switch {
			case st.CodeLive:
				continue
			case st.Lapsed():
				to = domain.StatusFailed
			case t.Status == domain.StatusPendingOTP:
				to = domain.StatusExpired
			default:
				continue
			}
		}

		if err := t.TransitionTo(to, now); err != nil {
			continue
		}
		if err := s.ledger.UpdateTransaction(ctx, t); err != nil {
			// Someone else moved it first; their write wins.
			if !errors.Is(err, store.ErrVersionConflict) {
				log.Warn("reconcile update failed", zap.Error(err))
			}
			continue
		}
		if to == domain.StatusFailed {
			report.Failed++
			if err := s.challenges.Clear(ctx, t.ID); err != nil {
				log.Warn("otp clear failed", zap.Error(err))
			}
		} else {
			report.Expired++
		}
		sweeperTransitions.WithLabelValues(string(to)).Inc()
		log.Info("transaction reconciled", zap.String("to", string(to)))
	}
	return report
}

// History returns the payer's transactions, newest first. The payer's own
// open transactions are reconciled first so lapsed challenges show as FAILED.
func (s *PaymentService) History(ctx context.Context, payerID int64) ([]domain.HistoryEntry, error) {
	txns, err := s.ledger.ListTransactionsByPayer(ctx, payerID)
	if err != nil {
		return nil, err
	}
	var open []domain.Transaction
	for _, t := range txns {
		if t.Status.Active() {
			open = append(open, t)
		}
	}
	if len(open) > 0 {
		if r := s.reconcile(ctx, open); r.Failed+r.Expired > 0 {
			if txns, err = s.ledger.ListTransactionsByPayer(ctx, payerID); err != nil {
				return nil, err
			}
		}
	}
	out := make([]domain.HistoryEntry, 0, len(txns))
	for _, t := range txns {
		out = append(out, t.History())
	}
	return out, nil
}

// LookupBill returns the bill for the student and period, defaulting the
// period to the current one.
func (s *PaymentService) LookupBill(ctx context.Context, studentID, period string) (*domain.Bill, error) {
	studentID = domain.NormalizeStudentID(studentID)
	if period == "" {
		period = domain.CurrentPeriod(s.now())
	}
	b, err := s.ledger.FindBill(ctx, studentID, period)
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return b, nil
}

// Account returns the payer's account.
func (s *PaymentService) Account(ctx context.Context, payerID int64) (*domain.Account, error) {
	a, err := s.ledger.GetAccount(ctx, payerID)
	if err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return a, nil
}

// AccountByUsername resolves a payer by login name.
func (s *PaymentService) AccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := s.ledger.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return a, nil
}

// lockPair takes the payer lock then the bill lock. The returned release is
// idempotent and ignores cancellation of ctx.
func (s *PaymentService) lockPair(ctx context.Context, payerID int64, studentID, period string) (func(), error) {
	release, err := s.locks.AcquireAll(ctx, lock.PayerKey(payerID), lock.BillKey(studentID, period))
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			lockBusy.Inc()
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("acquire locks: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { release(context.WithoutCancel(ctx)) })
	}, nil
}

// markFailed moves a non-terminal transaction to FAILED and drops its OTP
// state, retrying on version conflicts.
func (s *PaymentService) markFailed(ctx context.Context, txnID int64) {
	log := s.logger.With(zap.Int64("transaction_id", txnID))
	for attempt := 0; attempt < 3; attempt++ {
		t, err := s.ledger.GetTransaction(ctx, txnID)
		if err != nil {
			log.Error("mark failed: load", zap.Error(err))
			return
		}
		if t.Status.Terminal() {
			break
		}
		if err := t.TransitionTo(domain.StatusFailed, s.now()); err != nil {
			log.Error("mark failed", zap.Error(err))
			return
		}
		err = s.ledger.UpdateTransaction(ctx, t)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			log.Error("mark failed: update", zap.Error(err))
			return
		}
	}
	if err := s.challenges.Clear(ctx, txnID); err != nil {
		log.Warn("otp clear failed", zap.Error(err))
	}
}

// notFound maps store.ErrNotFound to the given outcome.
func notFound(err, as error) error {
	if errors.Is(err, store.ErrNotFound) {
		return as
	}
	return err
}

// mapStoreErr surfaces ledger concurrency errors as ErrConflict.
func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrActiveTransactionExists) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
