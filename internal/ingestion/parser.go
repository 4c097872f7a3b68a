package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"StableLedger/internal/domain"
	"StableLedger/internal/instruction"
	"StableLedger/internal/price"
)

// Inbound subjects are stable.instructions.<type>.<anything>; the trailing
// tokens are free for producers (usually the owner id).
const (
	InstructionSubjectPrefix = "stable.instructions."
	InstructionSubjects      = InstructionSubjectPrefix + ">"
)

// TypeFromSubject extracts the instruction type token from an inbound subject.
func TypeFromSubject(subject string) (instruction.Type, error) {
	rest, ok := strings.CutPrefix(subject, InstructionSubjectPrefix)
	if !ok {
		return instruction.TypeUnknown, fmt.Errorf("subject %q outside %s", subject, InstructionSubjects)
	}
	name, _, _ := strings.Cut(rest, ".")
	return instruction.ParseType(name)
}

// ParseMessage decodes one inbound message into a typed instruction.
func ParseMessage(subject string, data []byte) (instruction.Instruction, error) {
	t, err := TypeFromSubject(subject)
	if err != nil {
		return nil, err
	}
	ins, err := instruction.Decode(t, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", t, err)
	}
	return ins, nil
}

// FillPrice supplies the collateral price for price-bearing instructions
// that arrived without one. Instructions that carry a price, even an
// explicit zero, or need none, are left untouched. A nil src leaves the slot empty so the core rejects
// the instruction with InvalidPrice.
func FillPrice(ctx context.Context, ins instruction.Instruction, src price.Source) error {
	slot := instruction.PriceSlot(ins)
	if slot == nil || !slot.Missing() || src == nil {
		return nil
	}
	raw, err := src.Price(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("price source: %w", err)
	}
	*slot = raw
	return nil
}
