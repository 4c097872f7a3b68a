package instruction

import "github.com/google/uuid"

// Initialize creates the governance record. Payer becomes the authority.
type Initialize struct {
	RequestID       uuid.UUID
	Payer           uuid.UUID
	CollateralRatio uint64
	Sequence        int64
	TimestampUs     int64
}

func (i *Initialize) IdempotencyKey() string { return i.RequestID.String() }
func (i *Initialize) Type() Type             { return TypeInitialize }
func (i *Initialize) Partition() string      { return GovernancePartition }
func (i *Initialize) SourceSequence() int64  { return i.Sequence }
func (i *Initialize) Timestamp() int64       { return i.TimestampUs }

// UpdateGovernance changes parameters; only the current authority may sign it.
type UpdateGovernance struct {
	RequestID           uuid.UUID
	Caller              uuid.UUID
	CollateralRatio     *uint64
	Paused              *bool
	NewAuthority        *uuid.UUID
	LiquidationBonusBps *uint64
	MintFeeBps          *uint64
	Sequence            int64
	TimestampUs         int64
}

func (u *UpdateGovernance) IdempotencyKey() string { return u.RequestID.String() }
func (u *UpdateGovernance) Type() Type             { return TypeUpdateGovernance }
func (u *UpdateGovernance) Partition() string      { return GovernancePartition }
func (u *UpdateGovernance) SourceSequence() int64  { return u.Sequence }
func (u *UpdateGovernance) Timestamp() int64       { return u.TimestampUs }
