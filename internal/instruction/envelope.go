package instruction

import (
	"fmt"
	"time"
)

// Type discriminator for instruction payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeInitialize
	TypeDepositCollateral
	TypeWithdrawCollateral
	TypeMintStablecoin
	TypeBurnStablecoin
	TypePartialLiquidate
	TypeUpdateGovernance
)

var typeNames = map[Type]string{
	TypeInitialize:         "initialize",
	TypeDepositCollateral:  "deposit_collateral",
	TypeWithdrawCollateral: "withdraw_collateral",
	TypeMintStablecoin:     "mint_stablecoin",
	TypeBurnStablecoin:     "burn_stablecoin",
	TypePartialLiquidate:   "partial_liquidate",
	TypeUpdateGovernance:   "update_governance",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType maps a wire name such as "mint_stablecoin" to its Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown instruction type: %s", name)
}

// Envelope wraps every applied instruction in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the submitter
	IdempotencyKey string

	// Instruction type discriminator
	Type Type

	// Ordering partition ("governance" or "position:<owner>")
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Submitter sequence for ordering validation
	SourceSequence int64

	// JSON-encoded instruction (see Encode)
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Instruction is the interface all instruction payloads implement
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// Type returns the discriminator
	Type() Type

	// Partition returns the ordering partition
	Partition() string

	// SourceSequence returns the submitter ordering key; 0 means unsequenced
	SourceSequence() int64

	// Timestamp returns the versioned input time in epoch microseconds
	Timestamp() int64
}

const GovernancePartition = "governance"

func positionPartition(owner fmt.Stringer) string {
	return "position:" + owner.String()
}
