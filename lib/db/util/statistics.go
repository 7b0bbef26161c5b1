// Package util
//
// This file implements a size histogram used by the engines to report size
// estimates in GetInfo without performing full scans. Buckets grow
// exponentially from 16 bytes to 4 GB so a few hundred samples are enough
// for a useful median and percentile estimate.
package util

import (
	"math"
	"sync"

	"github.com/ValentinKolb/hkv/lib/db"
)

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// NewStats computes the mean, standard deviation, minimum and maximum of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	return Stats{
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))), // population formula
		Min:          lo,
		Max:          hi,
		Mean:         mean,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of data sizes in exponential buckets
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // Bucket boundaries covering byte to GB range
	buckets    []int64 // Count of items in each bucket
	count      int64   // Total number of samples
	sum        int64   // Sum of all sampled sizes
}

// NewSizeHistogram creates a new size histogram with default bucket boundaries
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{
		16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
		16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
		4194304, 16777216, 67108864, // MB range: 4MB to 64MB
		268435456, 1073741824, 4294967296, // Above 256MB to 4GB
	}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1), // +1 for larger values
	}
}

// SampleIterator adds the key+value size of up to max entries of it (starting at
// the first key) and returns the number of sampled entries.
// max <= 0 samples every entry.
func (h *SizeHistogram) SampleIterator(it db.Iterator, max int) (int, error) {
	n := 0
	for it.Seek(nil); it.Valid() && (max <= 0 || n < max); it.Next() {
		h.AddSample(len(it.Key()) + len(it.Value()))
		n++
	}
	return n, it.Err()
}

// AddSample adds a size sample to the histogram
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucketIndex := len(h.boundaries) // Last bucket for all larger values
	for i, boundary := range h.boundaries {
		if size <= boundary {
			bucketIndex = i
			break
		}
	}

	h.buckets[bucketIndex]++
	h.count++
	h.sum += int64(size)
}

// GetCount returns the total number of samples
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) GetCount() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the average size across all samples
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// MedianEstimate estimates the median size based on the histogram
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// GetPercentileEstimate returns an estimate for the given percentile (0-100)
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	targetCount := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	cumulativeCount := int64(0)

	for i, count := range h.buckets {
		cumulativeCount += count
		if cumulativeCount >= targetCount {
			switch {
			case i == 0:
				return h.boundaries[0] / 2
			case i < len(h.boundaries):
				return (h.boundaries[i-1] + h.boundaries[i]) / 2
			default:
				// estimation for the last bucket (2x the last boundary)
				return h.boundaries[len(h.boundaries)-1] * 2
			}
		}
	}

	return int(h.sum / h.count)
}

// EstimateTotal extrapolates the total size of total entries from the samples.
// It weights the median (60%) higher than the average (40%) to damp outliers,
// overhead is added per entry.
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) EstimateTotal(total int, overhead int) int {
	perEntry := (h.MedianEstimate()*60 + h.AverageSize()*40) / 100
	return total * (perEntry + overhead)
}

// Reset clears all histogram data
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// SizeDistribution returns the bucket boundaries and the percentage of samples in each bucket
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) SizeDistribution() ([]int, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, percentages
	}
	for i, count := range h.buckets {
		percentages[i] = float64(count) * 100.0 / float64(h.count)
	}
	return h.boundaries, percentages
}
