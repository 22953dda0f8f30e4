package gpuscene

// BatchDispatcher fans batches out to workers. The job system satisfies
// this; tests use a serial stand-in.
type BatchDispatcher interface {
	// RunBatches invokes fn for every batch index in [0, numBatches) and
	// returns when all invocations have completed.
	RunBatches(numBatches int, fn func(batchIndex int))
}

// serialDispatcher runs batches inline on the calling goroutine.
type serialDispatcher struct{}

func (serialDispatcher) RunBatches(numBatches int, fn func(batchIndex int)) {
	for i := 0; i < numBatches; i++ {
		fn(i)
	}
}

// uploadBatch is one worker's slice of the instance workload. Batches never
// split a primitive's instances across an SOA row boundary mid-element, but
// a primitive with many instances may span several batches.
type uploadBatch struct {
	firstItem     int
	firstInstance int
	numInstances  int
}

// buildInstanceUploadBatches splits the total instance workload into
// batches of at most batchSize instances, walking items in order so each
// batch covers a contiguous instance range.
func buildInstanceUploadBatches(instanceCounts []int, batchSize int) []uploadBatch {
	if batchSize <= 0 {
		batchSize = 64
	}

	var batches []uploadBatch
	item := 0
	consumed := 0
	for item < len(instanceCounts) {
		if instanceCounts[item] == consumed {
			item++
			consumed = 0
			continue
		}
		batch := uploadBatch{firstItem: item, firstInstance: consumed}
		remaining := batchSize
		for item < len(instanceCounts) && remaining > 0 {
			take := instanceCounts[item] - consumed
			if take > remaining {
				take = remaining
			}
			batch.numInstances += take
			consumed += take
			remaining -= take
			if consumed == instanceCounts[item] {
				item++
				consumed = 0
			}
		}
		batches = append(batches, batch)
	}
	return batches
}

// itemBatch is a contiguous run of primitive-upload items.
type itemBatch struct {
	first int
	count int
}

// buildItemBatches splits numItems primitive-upload items into batches of
// at most batchSize items.
func buildItemBatches(numItems, batchSize int) []itemBatch {
	if batchSize <= 0 {
		batchSize = 64
	}
	var batches []itemBatch
	for first := 0; first < numItems; first += batchSize {
		count := batchSize
		if first+count > numItems {
			count = numItems - first
		}
		batches = append(batches, itemBatch{first: first, count: count})
	}
	return batches
}
