package core

import (
	"fmt"
	"strings"

	"StableLedger/internal/observability"
)

// SequenceValidator enforces per-partition ordering of submitter sequences.
// Sequences must strictly increase within a partition; gaps are tolerated
// (a rejected instruction never consumes its number) and 0 means the
// submitter does not sequence this instruction.
// Not thread-safe; only accessed from the single-threaded core.
type SequenceValidator struct {
	lastSeq map[string]int64 // partition -> highest applied sequence
	metrics *observability.Metrics

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		lastSeq:    make(map[string]int64),
		metrics:    metrics,
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

// Check validates sourceSequence against the partition without advancing it.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	if sourceSequence < 0 {
		return fmt.Errorf("negative source sequence: partition=%s, got=%d", partition, sourceSequence)
	}

	last := sv.lastSeq[partition]
	if sourceSequence <= last {
		if isDuplicate {
			// Redelivery of something already applied
			return nil
		}
		sv.outOfOrder[partition]++
		if sv.metrics != nil {
			sv.metrics.SequenceOutOfOrder.WithLabelValues(partitionKind(partition)).Inc()
		}
		return fmt.Errorf("out-of-order instruction: partition=%s, last=%d, got=%d",
			partition, last, sourceSequence)
	}
	return nil
}

// Advance records sourceSequence as applied. Call only after Check passed
// and the instruction committed.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == 0 {
		return
	}
	last := sv.lastSeq[partition]
	if sourceSequence > last+1 {
		sv.gaps[partition]++
		if sv.metrics != nil {
			sv.metrics.SequenceGaps.WithLabelValues(partitionKind(partition)).Inc()
		}
	}
	if sourceSequence > last {
		sv.lastSeq[partition] = sourceSequence
	}
}

// GetLastSequence returns the highest applied sequence for a partition
func (sv *SequenceValidator) GetLastSequence(partition string) int64 {
	return sv.lastSeq[partition]
}

// RestorePartition sets the last applied sequence (snapshot restore only)
func (sv *SequenceValidator) RestorePartition(partition string, last int64) {
	sv.lastSeq[partition] = last
}

// GetAllPartitions returns a copy of every partition's last sequence
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.lastSeq))
	for p, s := range sv.lastSeq {
		out[p] = s
	}
	return out
}

func (sv *SequenceValidator) GetGaps(partition string) int64 {
	return sv.gaps[partition]
}

func (sv *SequenceValidator) GetOutOfOrder(partition string) int64 {
	return sv.outOfOrder[partition]
}

// partitionKind keeps metric label cardinality bounded ("position:<uuid>"
// becomes "position").
func partitionKind(partition string) string {
	if i := strings.IndexByte(partition, ':'); i >= 0 {
		return partition[:i]
	}
	return partition
}
