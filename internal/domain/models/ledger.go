package models

// LedgerUpdate is the payload written to the oracle account.
type LedgerUpdate struct {
	Symbol         string   `json:"symbol"`
	Price          float64  `json:"price"`
	Insight        string   `json:"insight"`
	Confidence     float32  `json:"confidence"`
	Recommendation string   `json:"recommendation"`
	Timestamp      int64    `json:"timestamp"`
	Authority      [32]byte `json:"-"`
	Bump           uint8    `json:"bump"`
}

// LedgerReceipt describes a confirmed submission.
type LedgerReceipt struct {
	Signature string `json:"signature"`
	Account   string `json:"account"`
	Slot      uint64 `json:"slot,omitempty"`
	Attempts  int    `json:"attempts"`
}

// LedgerInfo describes the oracle account and its signer.
type LedgerInfo struct {
	Program         string        `json:"program"`
	Account         string        `json:"account"`
	Bump            uint8         `json:"bump"`
	Authority       string        `json:"authority"`
	BalanceLamports uint64        `json:"balance_lamports"`
	Current         *LedgerUpdate `json:"current,omitempty"`
}
