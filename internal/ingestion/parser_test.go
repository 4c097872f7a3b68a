package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"StableLedger/internal/domain"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/instruction"
	"StableLedger/internal/price"
)

const ownerID = "b0000000-0000-4000-8000-000000000002"

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    instruction.Type
		wantErr bool
	}{
		{"stable.instructions.mint_stablecoin." + ownerID, instruction.TypeMintStablecoin, false},
		{"stable.instructions.initialize", instruction.TypeInitialize, false},
		{"stable.instructions.partial_liquidate.a.b", instruction.TypePartialLiquidate, false},
		{"stable.instructions.fund_market.x", instruction.TypeUnknown, true},
		{"perp.trades.x", instruction.TypeUnknown, true},
	}
	for _, tt := range tests {
		got, err := ingestion.TypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.subject, got, tt.want)
		}
	}
}

func TestParseMessage_Mint(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"request_id":    "00000000-0000-4000-8000-000000000001",
		"owner":         ownerID,
		"amount":        uint64(1_000),
		"current_price": uint64(110),
		"sequence":      int64(7),
		"timestamp_us":  int64(1_700_000_000_000_000),
	})

	ins, err := ingestion.ParseMessage("stable.instructions.mint_stablecoin."+ownerID, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, ok := ins.(*instruction.MintStablecoin)
	if !ok {
		t.Fatalf("expected *instruction.MintStablecoin, got %T", ins)
	}
	if m.Amount != 1_000 || m.CurrentPrice.Value != 110 {
		t.Errorf("amount=%d price=%d, want 1000/110", m.Amount, m.CurrentPrice.Value)
	}
	if m.SourceSequence() != 7 {
		t.Errorf("source sequence: got %d, want 7", m.SourceSequence())
	}
}

func TestParseMessage_NegativeAmountKeepsCode(t *testing.T) {
	data := []byte(`{"request_id":"00000000-0000-4000-8000-000000000001","owner":"` + ownerID + `","amount":-5,"sequence":1,"timestamp_us":1}`)
	_, err := ingestion.ParseMessage("stable.instructions.deposit_collateral."+ownerID, data)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}
}

func TestParseMessage_Garbage(t *testing.T) {
	if _, err := ingestion.ParseMessage("stable.instructions.burn_stablecoin.x", []byte("{")); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestFillPrice(t *testing.T) {
	ctx := context.Background()
	src := price.NewStaticSource(price.RawPrice{Value: 95, ObservedAt: 10})

	missing := &instruction.PartialLiquidate{Amount: 1}
	if err := ingestion.FillPrice(ctx, missing, src); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if missing.CurrentPrice.Value != 95 || missing.CurrentPrice.ObservedAt != 10 {
		t.Errorf("price not filled: %+v", missing.CurrentPrice)
	}

	supplied := &instruction.MintStablecoin{CurrentPrice: price.RawPrice{Value: 120}}
	if err := ingestion.FillPrice(ctx, supplied, src); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if supplied.CurrentPrice.Value != 120 {
		t.Errorf("caller price overwritten: %d", supplied.CurrentPrice.Value)
	}

	// No price known yet: leave the slot empty for the core to reject.
	empty := &instruction.WithdrawCollateral{}
	if err := ingestion.FillPrice(ctx, empty, price.NewStaticSource(price.RawPrice{})); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if empty.CurrentPrice.Value != 0 {
		t.Errorf("expected empty price, got %d", empty.CurrentPrice.Value)
	}

	zero := &instruction.MintStablecoin{CurrentPrice: price.RawPrice{Set: true}}
	if err := ingestion.FillPrice(ctx, zero, src); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if zero.CurrentPrice.Value != 0 {
		t.Errorf("explicit zero replaced by %d", zero.CurrentPrice.Value)
	}

	if err := ingestion.FillPrice(ctx, &instruction.DepositCollateral{}, src); err != nil {
		t.Fatalf("deposit has no price slot: %v", err)
	}
}

// The subscriber runs ParseMessage then FillPrice; an explicit zero price
// must come out of that pipeline still zero so the core rejects it.
func TestParseMessage_ExplicitZeroPriceNotFilled(t *testing.T) {
	ctx := context.Background()
	src := price.NewStaticSource(price.RawPrice{Value: 110})
	data := []byte(`{"request_id":"550e8400-e29b-41d4-a716-446655440000","owner":"` + ownerID + `","amount":1000,"current_price":0,"timestamp_us":1}`)

	ins, err := ingestion.ParseMessage("stable.instructions.mint_stablecoin."+ownerID, data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ingestion.FillPrice(ctx, ins, src); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if got := ins.(*instruction.MintStablecoin).CurrentPrice.Value; got != 0 {
		t.Fatalf("explicit zero replaced by %d", got)
	}
}

func TestAckTracker(t *testing.T) {
	tr := ingestion.NewAckTracker()
	var acked []int64
	ack := func(seq int64) func() { return func() { acked = append(acked, seq) } }

	tr.Add(0, ack(0))
	tr.Add(1, ack(1))
	tr.Add(3, ack(3))
	if tr.Pending() != 3 {
		t.Fatalf("pending: got %d, want 3", tr.Pending())
	}

	tr.Committed(1)
	if len(acked) != 2 || tr.Pending() != 1 {
		t.Fatalf("after commit 1: acked=%v pending=%d", acked, tr.Pending())
	}

	// Late registration below the watermark acks at once.
	tr.Add(1, ack(1))
	if len(acked) != 3 {
		t.Fatalf("late add not acked: %v", acked)
	}

	// A dropped commit notice for 2 is covered by the one for 4.
	tr.Committed(4)
	if tr.Pending() != 0 || acked[len(acked)-1] != 3 {
		t.Fatalf("after commit 4: acked=%v pending=%d", acked, tr.Pending())
	}
}
