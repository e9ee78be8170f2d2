package sync

import "time"

const throughputWindow = 20

// throughputSample is one completed window's contribution to the rolling
// estimator: how many blocks it covered, how many response bytes it took,
// and when it finished.
type throughputSample struct {
	blocks int64
	bytes  int64
	at     time.Time
}

// throughputEstimator keeps the last 20 window samples and derives
// blocks_per_second/bytes_per_block from them, per spec.md §4.4.
type throughputEstimator struct {
	samples []throughputSample
}

func (e *throughputEstimator) record(blocks, bytes int64, at time.Time) {
	e.samples = append(e.samples, throughputSample{blocks: blocks, bytes: bytes, at: at})
	if len(e.samples) > throughputWindow {
		e.samples = e.samples[len(e.samples)-throughputWindow:]
	}
}

// estimate returns (blocksPerSecond, bytesPerBlock). bytesPerBlock is
// available from the first sample covering at least one block;
// blocksPerSecond stays zero until the samples span nonzero wallclock.
func (e *throughputEstimator) estimate() (float64, float64) {
	if len(e.samples) == 0 {
		return 0, 0
	}
	var totalBlocks, totalBytes int64
	for _, s := range e.samples {
		totalBlocks += s.blocks
		totalBytes += s.bytes
	}
	if totalBlocks == 0 {
		return 0, 0
	}
	bytesPerBlock := float64(totalBytes) / float64(totalBlocks)

	first := e.samples[0].at
	last := e.samples[len(e.samples)-1].at
	elapsed := last.Sub(first).Seconds()
	if elapsed <= 0 {
		return 0, bytesPerBlock
	}
	return float64(totalBlocks) / elapsed, bytesPerBlock
}
