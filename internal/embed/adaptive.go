package embed

import "runtime"

// bytesPerFloat32 is the in-memory footprint of a single embedding
// component; used to estimate how much memory a batch of embeddings
// will occupy alongside the input text itself.
const bytesPerFloat32 = 4

// AdaptiveBatchSize computes the batch size to use for a set of texts
// given the process's available memory, following the same formula
// regardless of provider: (availableMemory * 0.4) / (avgTextLen*4 +
// dimensions*4) * 3, clamped to [1, 2*configuredBatchSize]. If the
// longest text is more than 3x the mean length, the result is halved
// to leave headroom for the outlier.
func AdaptiveBatchSize(availableMemory int64, textLengths []int, dimensions int, configuredBatchSize int, memoryFraction float64) int {
	if configuredBatchSize <= 0 {
		configuredBatchSize = DefaultBatchSize
	}
	if len(textLengths) == 0 {
		return configuredBatchSize
	}
	if memoryFraction <= 0 {
		memoryFraction = 0.4
	}

	var total, max int
	for _, l := range textLengths {
		total += l
		if l > max {
			max = l
		}
	}
	mean := float64(total) / float64(len(textLengths))

	perItemBytes := mean*bytesPerFloat32 + float64(dimensions)*bytesPerFloat32
	if perItemBytes <= 0 {
		return configuredBatchSize
	}

	budget := float64(availableMemory) * memoryFraction
	size := int((budget / perItemBytes) * 3)

	minSize := MinBatchSize
	maxSize := 2 * configuredBatchSize
	if size < minSize {
		size = minSize
	}
	if size > maxSize {
		size = maxSize
	}

	if mean > 0 && float64(max) > 3*mean {
		size /= 2
		if size < minSize {
			size = minSize
		}
	}
	return size
}

// availableProcessMemory estimates the memory budget available for
// embedding batches from the Go runtime's memory statistics. It is a
// coarse proxy - the heap the runtime reports, not system-wide free
// memory - but it varies with the same pressure signals (live heap
// size, GC cadence) that matter for sizing a batch.
func availableProcessMemory() int64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.Sys > stats.HeapInuse {
		return int64(stats.Sys - stats.HeapInuse)
	}
	return int64(stats.Sys)
}
