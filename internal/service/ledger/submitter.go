package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"FinOracle/internal/domain/errs"
	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
	"FinOracle/pkg/logger"
)

const defaultConfirmTimeout = 60 * time.Second

// Submitter writes oracle updates to the program's data account.
type Submitter struct {
	rpc            RPC
	key            solana.PrivateKey
	programID      solana.PublicKey
	confirmTimeout time.Duration
	now            func() time.Time
	metrics        repository.Metrics
	log            *logger.Logger
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithConfirmTimeout bounds one submission including the stale-blockhash retry.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// WithMetrics records submission outcomes.
func WithMetrics(m repository.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithLogger sets the submitter logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Submitter) { s.log = l }
}

// NewSubmitter creates a submitter signing with key.
func NewSubmitter(client RPC, key solana.PrivateKey, programID solana.PublicKey, opts ...Option) *Submitter {
	s := &Submitter{
		rpc:            client,
		key:            key,
		programID:      programID,
		confirmTimeout: defaultConfirmTimeout,
		now:            time.Now,
		metrics:        repository.NopMetrics{},
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authority is the signing identity.
func (s *Submitter) Authority() solana.PublicKey { return s.key.PublicKey() }

// ProgramID is the oracle program.
func (s *Submitter) ProgramID() solana.PublicKey { return s.programID }

// PDA derives the oracle data account.
func (s *Submitter) PDA() (solana.PublicKey, uint8, error) { return DerivePDA(s.programID) }

// Submit validates, encodes and sends u. A stale blockhash is retried once.
func (s *Submitter) Submit(ctx context.Context, u models.LedgerUpdate) (*models.LedgerReceipt, error) {
	if u.Timestamp == 0 {
		u.Timestamp = s.now().Unix()
	}
	data, err := EncodeUpdate(u)
	if err != nil {
		s.metrics.RecordLedgerSubmission("invalid")
		return nil, err
	}
	pda, _, err := s.PDA()
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(pda, true, false),
		solana.NewAccountMeta(s.Authority(), false, true),
	}
	receipt, err := s.send(ctx, "update_data", accounts, data)
	if err != nil {
		return nil, err
	}
	s.log.Info("oracle updated",
		logger.String("symbol", u.Symbol),
		logger.Float64("price", u.Price),
		logger.String("signature", receipt.Signature),
		logger.Int("attempts", receipt.Attempts))
	return receipt, nil
}

// Initialize creates the oracle data account.
func (s *Submitter) Initialize(ctx context.Context) (*models.LedgerReceipt, error) {
	pda, _, err := s.PDA()
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(pda, true, false),
		solana.NewAccountMeta(s.Authority(), true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return s.send(ctx, "initialize", accounts, append([]byte{}, initializeDiscriminator[:]...))
}

// Balance returns the authority balance in lamports.
func (s *Submitter) Balance(ctx context.Context) (uint64, error) {
	bal, err := s.rpc.Balance(ctx, s.Authority())
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// Current reads and decodes the oracle data account.
func (s *Submitter) Current(ctx context.Context) (models.LedgerUpdate, error) {
	pda, _, err := s.PDA()
	if err != nil {
		return models.LedgerUpdate{}, err
	}
	data, err := s.rpc.AccountData(ctx, pda)
	if err != nil {
		return models.LedgerUpdate{}, err
	}
	return DecodeAccount(data)
}

// Info gathers the account addresses, signer balance and the stored update.
// A missing account leaves Current nil.
func (s *Submitter) Info(ctx context.Context) (models.LedgerInfo, error) {
	pda, bump, err := s.PDA()
	if err != nil {
		return models.LedgerInfo{}, err
	}
	info := models.LedgerInfo{
		Program:   s.programID.String(),
		Account:   pda.String(),
		Bump:      bump,
		Authority: s.Authority().String(),
	}
	if info.BalanceLamports, err = s.Balance(ctx); err != nil {
		return info, err
	}
	cur, err := s.Current(ctx)
	switch {
	case err == nil:
		info.Current = &cur
	case !errors.Is(err, ErrAccountNotFound):
		return info, fmt.Errorf("read oracle account: %w", err)
	}
	return info, nil
}

func (s *Submitter) send(ctx context.Context, op string, accounts solana.AccountMetaSlice, data []byte) (*models.LedgerReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ix := solana.NewInstruction(s.programID, accounts, data)
	for attempt := 1; ; attempt++ {
		sig, slot, err := s.sendOnce(ctx, ix)
		if err == nil {
			s.metrics.RecordLedgerSubmission("confirmed")
			return &models.LedgerReceipt{
				Signature: sig.String(),
				Account:   accounts[0].PublicKey.String(),
				Slot:      slot,
				Attempts:  attempt,
			}, nil
		}

		lerr := s.classify(ctx, err)
		if lerr.Kind == errs.StaleBlockhash && attempt == 1 {
			s.log.Warn("stale blockhash, retrying with a fresh one", logger.String("op", op), logger.Error(err))
			continue
		}
		if lerr.Kind == errs.StaleBlockhash {
			lerr.Kind = errs.Rejected
		}
		s.metrics.RecordLedgerSubmission(string(lerr.Kind))
		s.log.Error("ledger submission failed", logger.String("op", op), logger.String("kind", string(lerr.Kind)), logger.Error(err))
		return nil, lerr
	}
}

func (s *Submitter) sendOnce(ctx context.Context, ix solana.Instruction) (solana.Signature, uint64, error) {
	blockhash, err := s.rpc.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("latest blockhash: %w", err)
	}
	authority := s.Authority()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(authority))
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(authority) {
			return &s.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, 0, fmt.Errorf("sign transaction: %w", err)
	}
	slot, err := s.rpc.SendAndConfirm(ctx, tx)
	if err != nil {
		return solana.Signature{}, 0, err
	}
	return tx.Signatures[0], slot, nil
}

func (s *Submitter) classify(ctx context.Context, err error) *errs.LedgerSubmitError {
	var lerr *errs.LedgerSubmitError
	if errors.As(err, &lerr) {
		return &errs.LedgerSubmitError{Kind: lerr.Kind, Reason: lerr.Reason, Err: err}
	}
	switch {
	case isStaleBlockhash(err):
		return &errs.LedgerSubmitError{Kind: errs.StaleBlockhash, Reason: "blockhash expired", Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &errs.LedgerSubmitError{Kind: errs.LedgerTimeout, Reason: "confirmation deadline exceeded", Err: err}
	default:
		return &errs.LedgerSubmitError{Kind: errs.Rejected, Reason: "transaction rejected", Err: err}
	}
}

func isStaleBlockhash(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhash not found") || strings.Contains(msg, "block height exceeded")
}
