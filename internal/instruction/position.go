package instruction

import (
	"StableLedger/internal/price"

	"github.com/google/uuid"
)

// DepositCollateral moves Amount of collateral from Payer into Owner's vault.
type DepositCollateral struct {
	RequestID   uuid.UUID
	Owner       uuid.UUID
	Payer       uuid.UUID
	Amount      uint64
	Sequence    int64
	TimestampUs int64
}

func (d *DepositCollateral) IdempotencyKey() string { return d.RequestID.String() }
func (d *DepositCollateral) Type() Type             { return TypeDepositCollateral }
func (d *DepositCollateral) Partition() string      { return positionPartition(d.Owner) }
func (d *DepositCollateral) SourceSequence() int64  { return d.Sequence }
func (d *DepositCollateral) Timestamp() int64       { return d.TimestampUs }

// WithdrawCollateral releases collateral back to the owner.
type WithdrawCollateral struct {
	RequestID    uuid.UUID
	Owner        uuid.UUID
	Signer       uuid.UUID
	Amount       uint64
	CurrentPrice price.RawPrice
	Sequence     int64
	TimestampUs  int64
}

func (w *WithdrawCollateral) IdempotencyKey() string { return w.RequestID.String() }
func (w *WithdrawCollateral) Type() Type             { return TypeWithdrawCollateral }
func (w *WithdrawCollateral) Partition() string      { return positionPartition(w.Owner) }
func (w *WithdrawCollateral) SourceSequence() int64  { return w.Sequence }
func (w *WithdrawCollateral) Timestamp() int64       { return w.TimestampUs }

// MintStablecoin issues Amount of stablecoin debt against Owner's collateral.
// Authority is optional; when set it must be the owner.
type MintStablecoin struct {
	RequestID    uuid.UUID
	Owner        uuid.UUID
	Authority    uuid.UUID
	Amount       uint64
	CurrentPrice price.RawPrice
	Sequence     int64
	TimestampUs  int64
}

func (m *MintStablecoin) IdempotencyKey() string { return m.RequestID.String() }
func (m *MintStablecoin) Type() Type             { return TypeMintStablecoin }
func (m *MintStablecoin) Partition() string      { return positionPartition(m.Owner) }
func (m *MintStablecoin) SourceSequence() int64  { return m.Sequence }
func (m *MintStablecoin) Timestamp() int64       { return m.TimestampUs }

// BurnStablecoin repays debt with stablecoin from the owner's wallet.
type BurnStablecoin struct {
	RequestID   uuid.UUID
	Owner       uuid.UUID
	Signer      uuid.UUID
	Amount      uint64
	Sequence    int64
	TimestampUs int64
}

func (b *BurnStablecoin) IdempotencyKey() string { return b.RequestID.String() }
func (b *BurnStablecoin) Type() Type             { return TypeBurnStablecoin }
func (b *BurnStablecoin) Partition() string      { return positionPartition(b.Owner) }
func (b *BurnStablecoin) SourceSequence() int64  { return b.Sequence }
func (b *BurnStablecoin) Timestamp() int64       { return b.TimestampUs }

// PartialLiquidate retires Amount of Owner's debt, paying Liquidator in
// collateral. Anyone may liquidate an eligible position.
type PartialLiquidate struct {
	RequestID    uuid.UUID
	Owner        uuid.UUID
	Liquidator   uuid.UUID
	Amount       uint64
	CurrentPrice price.RawPrice
	Sequence     int64
	TimestampUs  int64
}

func (p *PartialLiquidate) IdempotencyKey() string { return p.RequestID.String() }
func (p *PartialLiquidate) Type() Type             { return TypePartialLiquidate }
func (p *PartialLiquidate) Partition() string      { return positionPartition(p.Owner) }
func (p *PartialLiquidate) SourceSequence() int64  { return p.Sequence }
func (p *PartialLiquidate) Timestamp() int64       { return p.TimestampUs }
