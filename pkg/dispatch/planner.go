package dispatch

import "iter"

// BatchDescriptor identifies one batch of a plan.
type BatchDescriptor struct {
	// Index is the 0-based batch number.
	Index int
	// Offset is the number of calls planned before this batch.
	Offset int
	// Size is the number of calls in this batch.
	Size int
}

// Plan partitions total calls into batches of at most batchSize.
// Descriptors are computed on demand; sizes sum exactly to total and only the
// last batch may be smaller than batchSize. Non-positive arguments yield an
// empty sequence.
func Plan(total, batchSize int) iter.Seq[BatchDescriptor] {
	return func(yield func(BatchDescriptor) bool) {
		if total <= 0 || batchSize <= 0 {
			return
		}
		for index, planned := 0, 0; planned < total; index++ {
			size := min(batchSize, total-planned)
			if !yield(BatchDescriptor{Index: index, Offset: planned, Size: size}) {
				return
			}
			planned += size
		}
	}
}

// BatchCount returns ceil(total / batchSize).
func BatchCount(total, batchSize int) int {
	if total <= 0 || batchSize <= 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}
