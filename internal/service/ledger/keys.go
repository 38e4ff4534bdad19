package ledger

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PDASeed seeds the oracle data account address.
const PDASeed = "oracle-data"

// DefaultProgramID is the deployed oracle program.
const DefaultProgramID = "GVetpCppi9v1BoZYCHwzL18b6a35i3HbgFUifQLbt5Jz"

// LoadKeyFile reads a keygen JSON array of 64 bytes.
func LoadKeyFile(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load key file %s: %w", path, err)
	}
	return key, nil
}

// ParseProgramID parses a base58 program id, falling back to DefaultProgramID.
func ParseProgramID(s string) (solana.PublicKey, error) {
	if s == "" {
		s = DefaultProgramID
	}
	id, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse program id: %w", err)
	}
	return id, nil
}

// DerivePDA returns the oracle data account and its bump for programID.
func DerivePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	pda, bump, err := solana.FindProgramAddress([][]byte{[]byte(PDASeed)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive oracle pda: %w", err)
	}
	return pda, bump, nil
}
