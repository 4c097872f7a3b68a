package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMint
	JournalTypeMintFee
	JournalTypeBurn
	JournalTypeLiquidationSeize
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMint:
		return "mint"
	case JournalTypeMintFee:
		return "mint_fee"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeLiquidationSeize:
		return "liquidation_seize"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Derived from the batch and leg index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source instruction
	Sequence      int64       // Global sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries. A batch with no
// journals is legal for instructions that only change records.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every
// entry is balanced by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// IsEmpty reports whether the batch moves no tokens.
func (b *Batch) IsEmpty() bool {
	return len(b.Journals) == 0
}
