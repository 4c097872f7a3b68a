package instruction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"StableLedger/internal/domain"
	"StableLedger/internal/price"

	"github.com/google/uuid"
)

// --- JSON wire formats ---
// Shared by NATS ingestion, the gRPC/HTTP surface and the event log payload.
// Field names use snake_case to match upstream producers. Quantities are
// carried as JSON numbers and parsed into uint64 so the full range survives.

type initializeJSON struct {
	RequestID       string      `json:"request_id"`
	Payer           string      `json:"payer"`
	CollateralRatio json.Number `json:"collateral_ratio"`
	Sequence        int64       `json:"sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

type depositJSON struct {
	RequestID   string      `json:"request_id"`
	Owner       string      `json:"owner"`
	Payer       string      `json:"payer,omitempty"`
	Amount      json.Number `json:"amount"`
	Sequence    int64       `json:"sequence"`
	TimestampUs int64       `json:"timestamp_us"`
}

type withdrawJSON struct {
	RequestID       string      `json:"request_id"`
	Owner           string      `json:"owner"`
	Signer          string      `json:"signer"`
	Amount          json.Number `json:"amount"`
	CurrentPrice    json.Number `json:"current_price,omitempty"`
	PriceObservedUs int64       `json:"price_observed_us,omitempty"`
	Sequence        int64       `json:"sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

type mintJSON struct {
	RequestID       string      `json:"request_id"`
	Owner           string      `json:"owner"`
	Authority       string      `json:"authority,omitempty"`
	Amount          json.Number `json:"amount"`
	CurrentPrice    json.Number `json:"current_price,omitempty"`
	PriceObservedUs int64       `json:"price_observed_us,omitempty"`
	Sequence        int64       `json:"sequence"`
	TimestampUs     int64       `json:"timestamp_us"`
}

type burnJSON struct {
	RequestID   string      `json:"request_id"`
	Owner       string      `json:"owner"`
	Signer      string      `json:"signer"`
	Amount      json.Number `json:"amount"`
	Sequence    int64       `json:"sequence"`
	TimestampUs int64       `json:"timestamp_us"`
}

type liquidateJSON struct {
	RequestID         string      `json:"request_id"`
	Owner             string      `json:"owner"`
	Liquidator        string      `json:"liquidator"`
	LiquidationAmount json.Number `json:"liquidation_amount"`
	CurrentPrice      json.Number `json:"current_price,omitempty"`
	PriceObservedUs   int64       `json:"price_observed_us,omitempty"`
	Sequence          int64       `json:"sequence"`
	TimestampUs       int64       `json:"timestamp_us"`
}

type updateGovernanceJSON struct {
	RequestID           string       `json:"request_id"`
	Caller              string       `json:"caller"`
	CollateralRatio     *json.Number `json:"collateral_ratio,omitempty"`
	Paused              *bool        `json:"paused,omitempty"`
	NewAuthority        *string      `json:"new_authority,omitempty"`
	LiquidationBonusBps *json.Number `json:"liquidation_bonus_bps,omitempty"`
	MintFeeBps          *json.Number `json:"mint_fee_bps,omitempty"`
	Sequence            int64        `json:"sequence"`
	TimestampUs         int64        `json:"timestamp_us"`
}

// Decode parses a wire payload of the given type.
func Decode(t Type, data []byte) (Instruction, error) {
	switch t {
	case TypeInitialize:
		return decodeInitialize(data)
	case TypeDepositCollateral:
		return decodeDeposit(data)
	case TypeWithdrawCollateral:
		return decodeWithdraw(data)
	case TypeMintStablecoin:
		return decodeMint(data)
	case TypeBurnStablecoin:
		return decodeBurn(data)
	case TypePartialLiquidate:
		return decodeLiquidate(data)
	case TypeUpdateGovernance:
		return decodeUpdateGovernance(data)
	default:
		return nil, fmt.Errorf("unknown instruction type: %d", t)
	}
}

// Encode serializes an instruction into its wire payload.
func Encode(ins Instruction) ([]byte, error) {
	switch i := ins.(type) {
	case *Initialize:
		return json.Marshal(initializeJSON{
			RequestID:       i.RequestID.String(),
			Payer:           i.Payer.String(),
			CollateralRatio: formatUint(i.CollateralRatio),
			Sequence:        i.Sequence,
			TimestampUs:     i.TimestampUs,
		})
	case *DepositCollateral:
		return json.Marshal(depositJSON{
			RequestID:   i.RequestID.String(),
			Owner:       i.Owner.String(),
			Payer:       i.Payer.String(),
			Amount:      formatUint(i.Amount),
			Sequence:    i.Sequence,
			TimestampUs: i.TimestampUs,
		})
	case *WithdrawCollateral:
		return json.Marshal(withdrawJSON{
			RequestID:       i.RequestID.String(),
			Owner:           i.Owner.String(),
			Signer:          i.Signer.String(),
			Amount:          formatUint(i.Amount),
			CurrentPrice:    formatPrice(i.CurrentPrice),
			PriceObservedUs: i.CurrentPrice.ObservedAt,
			Sequence:        i.Sequence,
			TimestampUs:     i.TimestampUs,
		})
	case *MintStablecoin:
		j := mintJSON{
			RequestID:       i.RequestID.String(),
			Owner:           i.Owner.String(),
			Amount:          formatUint(i.Amount),
			CurrentPrice:    formatPrice(i.CurrentPrice),
			PriceObservedUs: i.CurrentPrice.ObservedAt,
			Sequence:        i.Sequence,
			TimestampUs:     i.TimestampUs,
		}
		if i.Authority != uuid.Nil {
			j.Authority = i.Authority.String()
		}
		return json.Marshal(j)
	case *BurnStablecoin:
		return json.Marshal(burnJSON{
			RequestID:   i.RequestID.String(),
			Owner:       i.Owner.String(),
			Signer:      i.Signer.String(),
			Amount:      formatUint(i.Amount),
			Sequence:    i.Sequence,
			TimestampUs: i.TimestampUs,
		})
	case *PartialLiquidate:
		return json.Marshal(liquidateJSON{
			RequestID:         i.RequestID.String(),
			Owner:             i.Owner.String(),
			Liquidator:        i.Liquidator.String(),
			LiquidationAmount: formatUint(i.Amount),
			CurrentPrice:      formatPrice(i.CurrentPrice),
			PriceObservedUs:   i.CurrentPrice.ObservedAt,
			Sequence:          i.Sequence,
			TimestampUs:       i.TimestampUs,
		})
	case *UpdateGovernance:
		j := updateGovernanceJSON{
			RequestID:   i.RequestID.String(),
			Caller:      i.Caller.String(),
			Paused:      i.Paused,
			Sequence:    i.Sequence,
			TimestampUs: i.TimestampUs,
		}
		j.CollateralRatio = formatOptional(i.CollateralRatio)
		j.LiquidationBonusBps = formatOptional(i.LiquidationBonusBps)
		j.MintFeeBps = formatOptional(i.MintFeeBps)
		if i.NewAuthority != nil {
			s := i.NewAuthority.String()
			j.NewAuthority = &s
		}
		return json.Marshal(j)
	default:
		return nil, fmt.Errorf("unknown instruction: %T", ins)
	}
}

// PriceSlot returns the price carried by instructions that need one, so a
// shell can fill it from a price.Source. Other instructions return nil.
func PriceSlot(ins Instruction) *price.RawPrice {
	switch i := ins.(type) {
	case *MintStablecoin:
		return &i.CurrentPrice
	case *WithdrawCollateral:
		return &i.CurrentPrice
	case *PartialLiquidate:
		return &i.CurrentPrice
	default:
		return nil
	}
}

func decodeInitialize(data []byte) (*Initialize, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse initialize: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	payer, err := parseID(j.Payer, "payer")
	if err != nil {
		return nil, err
	}
	ratio, err := parseQuantity(j.CollateralRatio, "collateral_ratio", domain.ErrInvalidParameter)
	if err != nil {
		return nil, err
	}
	return &Initialize{
		RequestID:       requestID,
		Payer:           payer,
		CollateralRatio: ratio,
		Sequence:        j.Sequence,
		TimestampUs:     j.TimestampUs,
	}, nil
}

func decodeDeposit(data []byte) (*DepositCollateral, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse deposit_collateral: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	payer := owner
	if j.Payer != "" {
		if payer, err = parseID(j.Payer, "payer"); err != nil {
			return nil, err
		}
	}
	amount, err := parseQuantity(j.Amount, "amount", domain.ErrInvalidAmount)
	if err != nil {
		return nil, err
	}
	return &DepositCollateral{
		RequestID:   requestID,
		Owner:       owner,
		Payer:       payer,
		Amount:      amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func decodeWithdraw(data []byte) (*WithdrawCollateral, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw_collateral: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	signer, err := parseID(j.Signer, "signer")
	if err != nil {
		return nil, err
	}
	amount, err := parseQuantity(j.Amount, "amount", domain.ErrInvalidAmount)
	if err != nil {
		return nil, err
	}
	p, err := parsePrice(j.CurrentPrice, j.PriceObservedUs)
	if err != nil {
		return nil, err
	}
	return &WithdrawCollateral{
		RequestID:    requestID,
		Owner:        owner,
		Signer:       signer,
		Amount:       amount,
		CurrentPrice: p,
		Sequence:     j.Sequence,
		TimestampUs:  j.TimestampUs,
	}, nil
}

func decodeMint(data []byte) (*MintStablecoin, error) {
	var j mintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse mint_stablecoin: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	var authority uuid.UUID
	if j.Authority != "" {
		if authority, err = parseID(j.Authority, "authority"); err != nil {
			return nil, err
		}
	}
	amount, err := parseQuantity(j.Amount, "amount", domain.ErrInvalidAmount)
	if err != nil {
		return nil, err
	}
	p, err := parsePrice(j.CurrentPrice, j.PriceObservedUs)
	if err != nil {
		return nil, err
	}
	return &MintStablecoin{
		RequestID:    requestID,
		Owner:        owner,
		Authority:    authority,
		Amount:       amount,
		CurrentPrice: p,
		Sequence:     j.Sequence,
		TimestampUs:  j.TimestampUs,
	}, nil
}

func decodeBurn(data []byte) (*BurnStablecoin, error) {
	var j burnJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse burn_stablecoin: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	signer, err := parseID(j.Signer, "signer")
	if err != nil {
		return nil, err
	}
	amount, err := parseQuantity(j.Amount, "amount", domain.ErrInvalidAmount)
	if err != nil {
		return nil, err
	}
	return &BurnStablecoin{
		RequestID:   requestID,
		Owner:       owner,
		Signer:      signer,
		Amount:      amount,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}, nil
}

func decodeLiquidate(data []byte) (*PartialLiquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse partial_liquidate: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	owner, err := parseID(j.Owner, "owner")
	if err != nil {
		return nil, err
	}
	liquidator, err := parseID(j.Liquidator, "liquidator")
	if err != nil {
		return nil, err
	}
	amount, err := parseQuantity(j.LiquidationAmount, "liquidation_amount", domain.ErrInvalidAmount)
	if err != nil {
		return nil, err
	}
	p, err := parsePrice(j.CurrentPrice, j.PriceObservedUs)
	if err != nil {
		return nil, err
	}
	return &PartialLiquidate{
		RequestID:    requestID,
		Owner:        owner,
		Liquidator:   liquidator,
		Amount:       amount,
		CurrentPrice: p,
		Sequence:     j.Sequence,
		TimestampUs:  j.TimestampUs,
	}, nil
}

func decodeUpdateGovernance(data []byte) (*UpdateGovernance, error) {
	var j updateGovernanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse update_governance: %w", err)
	}
	requestID, err := parseID(j.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	caller, err := parseID(j.Caller, "caller")
	if err != nil {
		return nil, err
	}

	u := &UpdateGovernance{
		RequestID:   requestID,
		Caller:      caller,
		Paused:      j.Paused,
		Sequence:    j.Sequence,
		TimestampUs: j.TimestampUs,
	}
	if u.CollateralRatio, err = parseOptional(j.CollateralRatio, "collateral_ratio"); err != nil {
		return nil, err
	}
	if u.LiquidationBonusBps, err = parseOptional(j.LiquidationBonusBps, "liquidation_bonus_bps"); err != nil {
		return nil, err
	}
	if u.MintFeeBps, err = parseOptional(j.MintFeeBps, "mint_fee_bps"); err != nil {
		return nil, err
	}
	if j.NewAuthority != nil {
		id, err := parseID(*j.NewAuthority, "new_authority")
		if err != nil {
			return nil, err
		}
		u.NewAuthority = &id
	}
	return u, nil
}

func parseID(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

// parseQuantity reads an unsigned quantity. Negative values are rejected
// with the domain error kind for the field; an absent value reads as 0.
func parseQuantity(n json.Number, field string, negative *domain.Error) (uint64, error) {
	s := string(n)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "-") {
		return 0, domain.Wrap(negative, "%s must not be negative, got %s", field, s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

// parsePrice keeps an absent current_price distinct from an explicit 0.
func parsePrice(n json.Number, observedAt int64) (price.RawPrice, error) {
	if n == "" {
		return price.RawPrice{ObservedAt: observedAt}, nil
	}
	v, err := parseQuantity(n, "current_price", domain.ErrInvalidPrice)
	if err != nil {
		return price.RawPrice{}, err
	}
	return price.RawPrice{Value: v, ObservedAt: observedAt, Set: true}, nil
}

func formatPrice(p price.RawPrice) json.Number {
	if p.Missing() {
		return ""
	}
	return formatUint(p.Value)
}

func parseOptional(n *json.Number, field string) (*uint64, error) {
	if n == nil {
		return nil, nil
	}
	v, err := parseQuantity(*n, field, domain.ErrInvalidParameter)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatUint(v uint64) json.Number {
	return json.Number(strconv.FormatUint(v, 10))
}

func formatOptional(v *uint64) *json.Number {
	if v == nil {
		return nil
	}
	n := formatUint(*v)
	return &n
}
