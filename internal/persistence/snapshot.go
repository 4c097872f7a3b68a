package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/instruction"
	"StableLedger/internal/ledger"
	"StableLedger/internal/state"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded SnapshotData.
const snapshotFormatVersion = 1

// SnapshotManager saves and loads core snapshots and reads the event log
// back for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState. uint64
// quantities are decimal strings so the JSON survives any decoder.
type SnapshotData struct {
	Sequence        int64              `json:"sequence"`
	StateHash       []byte             `json:"state_hash"`
	Balances        map[string]int64   `json:"balances"` // AccountPath -> balance
	Governance      *GovernanceSnap    `json:"governance,omitempty"`
	Positions       []PositionSnapshot `json:"positions"`
	SequenceState   map[string]int64   `json:"sequence_state"`   // partition -> last applied
	IdempotencyKeys []string           `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time          `json:"created_at"`
}

type GovernanceSnap struct {
	Address             string `json:"address"`
	Authority           string `json:"authority"`
	CollateralRatio     string `json:"collateral_ratio"`
	RatioScale          string `json:"ratio_scale"`
	Paused              bool   `json:"paused"`
	LiquidationBonusBps string `json:"liquidation_bonus_bps"`
	MintFeeBps          string `json:"mint_fee_bps"`
	Version             string `json:"version"`
	UpdatedAt           int64  `json:"updated_at"`
}

type PositionSnapshot struct {
	Address             string `json:"address"`
	Owner               string `json:"owner"`
	CollateralDeposited string `json:"collateral_deposited"`
	StablecoinMinted    string `json:"stablecoin_minted"`
	LastMintTs          int64  `json:"last_mint_ts"`
	LastLiquidationTs   int64  `json:"last_liquidation_ts"`
	Status              int32  `json:"status"`
	Version             string `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotFromCore converts a captured core state for storage.
func SnapshotFromCore(snap *core.SnapshotState) *SnapshotData {
	data := &SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       append([]byte(nil), snap.StateHash[:]...),
		Balances:        make(map[string]int64, len(snap.Balances)),
		Positions:       make([]PositionSnapshot, 0, len(snap.Positions)),
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
		CreatedAt:       time.Now().UTC(),
	}

	for key, balance := range snap.Balances {
		data.Balances[key.AccountPath()] = balance
	}

	if g := snap.Governance; g != nil {
		data.Governance = &GovernanceSnap{
			Address:             g.Address.String(),
			Authority:           g.Authority.String(),
			CollateralRatio:     formatU64(g.CollateralRatio),
			RatioScale:          formatU64(g.RatioScale),
			Paused:              g.Paused,
			LiquidationBonusBps: formatU64(g.LiquidationBonusBps),
			MintFeeBps:          formatU64(g.MintFeeBps),
			Version:             formatU64(g.Version),
			UpdatedAt:           g.UpdatedAt,
		}
	}

	for _, p := range snap.Positions {
		data.Positions = append(data.Positions, PositionSnapshot{
			Address:             p.Address.String(),
			Owner:               p.Owner.String(),
			CollateralDeposited: formatU64(p.CollateralDeposited),
			StablecoinMinted:    formatU64(p.StablecoinMinted),
			LastMintTs:          p.LastMintTs,
			LastLiquidationTs:   p.LastLiquidationTs,
			Status:              int32(p.Status),
			Version:             formatU64(p.Version),
		})
	}

	return data
}

// ToCore converts stored data back into a restorable core state.
func (d *SnapshotData) ToCore() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}

	snap := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Positions:       make([]state.PositionRecord, 0, len(d.Positions)),
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(snap.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		snap.Balances[key] = balance
	}

	if g := d.Governance; g != nil {
		rec, err := g.record()
		if err != nil {
			return nil, fmt.Errorf("snapshot %d governance: %w", d.Sequence, err)
		}
		snap.Governance = &rec
	}

	for _, ps := range d.Positions {
		rec, err := ps.record()
		if err != nil {
			return nil, fmt.Errorf("snapshot %d position %s: %w", d.Sequence, ps.Owner, err)
		}
		snap.Positions = append(snap.Positions, rec)
	}

	return snap, nil
}

func (g *GovernanceSnap) record() (state.GovernanceRecord, error) {
	var (
		rec  state.GovernanceRecord
		errs []error
	)
	rec.Address, errs = parseUUIDInto(g.Address, errs)
	rec.Authority, errs = parseUUIDInto(g.Authority, errs)
	rec.CollateralRatio, errs = parseU64Into(g.CollateralRatio, errs)
	rec.RatioScale, errs = parseU64Into(g.RatioScale, errs)
	rec.LiquidationBonusBps, errs = parseU64Into(g.LiquidationBonusBps, errs)
	rec.MintFeeBps, errs = parseU64Into(g.MintFeeBps, errs)
	rec.Version, errs = parseU64Into(g.Version, errs)
	rec.Paused = g.Paused
	rec.UpdatedAt = g.UpdatedAt
	return rec, errors.Join(errs...)
}

func (ps *PositionSnapshot) record() (state.PositionRecord, error) {
	var (
		rec  state.PositionRecord
		errs []error
	)
	rec.Address, errs = parseUUIDInto(ps.Address, errs)
	rec.Owner, errs = parseUUIDInto(ps.Owner, errs)
	rec.CollateralDeposited, errs = parseU64Into(ps.CollateralDeposited, errs)
	rec.StablecoinMinted, errs = parseU64Into(ps.StablecoinMinted, errs)
	rec.Version, errs = parseU64Into(ps.Version, errs)
	rec.LastMintTs = ps.LastMintTs
	rec.LastLiquidationTs = ps.LastLiquidationTs
	rec.Status = state.PositionStatus(ps.Status)
	return rec, errors.Join(errs...)
}

// SaveSnapshot persists a snapshot. Snapshots start unverified; see
// VerifyAgainstEventLog.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// VerifyAgainstEventLog marks every snapshot whose state hash matches the
// persisted event at the same sequence. A snapshot taken ahead of the
// persistence worker stays unverified until its event is durable.
func (sm *SnapshotManager) VerifyAgainstEventLog(ctx context.Context) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s
		SET verified = TRUE
		FROM event_log.events e
		WHERE s.verified = FALSE
		  AND e.sequence = s.sequence
		  AND e.state_hash = s.state_hash
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom reads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, instruction_type, idempotency_key, partition_key, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.InstructionType, &e.IdempotencyKey, &e.Partition, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log and
// whether the log has any rows.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, bool, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, false, err
	}
	return seq.Int64, seq.Valid, nil
}

// GetStateHash returns the state hash recorded for sequence.
func (sm *SnapshotManager) GetStateHash(ctx context.Context, sequence int64) ([32]byte, error) {
	var raw []byte
	var out [32]byte
	err := sm.db.QueryRowContext(ctx, `SELECT state_hash FROM event_log.events WHERE sequence = $1`, sequence).Scan(&raw)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("event %d: state hash has %d bytes", sequence, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Instruction decodes the stored payload back into a typed instruction.
func (e EventRow) Instruction() (instruction.Instruction, error) {
	t, err := instruction.ParseType(e.InstructionType)
	if err != nil {
		return nil, err
	}
	return instruction.Decode(t, e.Payload)
}

func formatU64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64Into(s string, errs []error) (uint64, []error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, append(errs, err)
	}
	return v, errs
}

func parseUUIDInto(s string, errs []error) (uuid.UUID, []error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, append(errs, err)
	}
	return id, errs
}
