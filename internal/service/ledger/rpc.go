package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned by AccountData for an uninitialized account.
var ErrAccountNotFound = errors.New("account not found")

// RPC is the subset of the ledger JSON-RPC the submitter needs.
type RPC interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	// SendAndConfirm sends a signed transaction and waits for confirmation, returning its slot.
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (uint64, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
}

// SolanaRPC implements RPC over solana-go's JSON-RPC client.
type SolanaRPC struct {
	client       *rpc.Client
	commitment   rpc.CommitmentType
	pollInterval time.Duration
}

// NewSolanaRPC dials nothing; requests are made lazily against endpoint.
func NewSolanaRPC(endpoint string) *SolanaRPC {
	return &SolanaRPC{
		client:       rpc.New(endpoint),
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: 500 * time.Millisecond,
	}
}

func (s *SolanaRPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := s.client.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("empty getLatestBlockhash response")
	}
	return out.Value.Blockhash, nil
}

func (s *SolanaRPC) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return 0, err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
		res, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil || res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}
		st := res.Value[0]
		if st.Err != nil {
			return 0, fmt.Errorf("transaction %s failed: %v", sig, st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return st.Slot, nil
		}
	}
}

func (s *SolanaRPC) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := s.client.GetBalance(ctx, account, s.commitment)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (s *SolanaRPC) AccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	out, err := s.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, ErrAccountNotFound
	}
	return out.Value.Data.GetBinary(), nil
}
