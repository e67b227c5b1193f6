// Package chunker partitions a source's sensor records into time-bounded chunks.
package chunker

import (
	"fmt"
	"sort"
	"time"

	"github.com/afroash/lora-digest/internal/models"
)

const (
	// DefaultWindow is the batch pipeline window.
	DefaultWindow = 24 * time.Hour
	// InteractiveWindow is the upload pipeline window.
	InteractiveWindow = 4 * time.Hour
	// DefaultMaxGap is the gap between consecutive records that always
	// starts a new chunk.
	DefaultMaxGap = time.Hour
)

// Policy names.
const (
	PolicyGapWindow  = "gap-window"
	PolicyHourBucket = "hour-bucket"
)

// Policy decides where chunk boundaries fall in a sorted record sequence.
type Policy interface {
	// Boundaries returns the start index of every chunk. The first entry
	// is always 0 for non-empty input.
	Boundaries(records []models.SensorRecord) []int
	Name() string
}

// GapWindow splits on gaps larger than MaxGap and once the accumulated
// elapsed time in a chunk reaches Window. The boundary is placed before the
// record that crossed the threshold.
type GapWindow struct {
	Window time.Duration
	MaxGap time.Duration
}

func (p GapWindow) Name() string { return PolicyGapWindow }

func (p GapWindow) Boundaries(records []models.SensorRecord) []int {
	if len(records) == 0 {
		return nil
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	maxGap := p.MaxGap
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}

	starts := []int{0}
	var accumulated time.Duration
	for i := 1; i < len(records); i++ {
		gap := records[i].Timestamp.Sub(records[i-1].Timestamp)
		if gap > maxGap {
			starts = append(starts, i)
			accumulated = 0
			continue
		}
		accumulated += gap
		if accumulated >= window {
			starts = append(starts, i)
			accumulated = 0
		}
	}
	return starts
}

// HourBucket groups records by calendar date and floor(hour/HoursPerChunk),
// ignoring gaps.
type HourBucket struct {
	HoursPerChunk int
}

func (p HourBucket) Name() string { return PolicyHourBucket }

type bucketKey struct {
	year   int
	yday   int
	bucket int
}

func (p HourBucket) key(ts time.Time) bucketKey {
	hours := p.HoursPerChunk
	if hours <= 0 || hours > 24 {
		hours = 24
	}
	return bucketKey{year: ts.Year(), yday: ts.YearDay(), bucket: ts.Hour() / hours}
}

func (p HourBucket) Boundaries(records []models.SensorRecord) []int {
	if len(records) == 0 {
		return nil
	}
	starts := []int{0}
	current := p.key(records[0].Timestamp)
	for i := 1; i < len(records); i++ {
		k := p.key(records[i].Timestamp)
		if k != current {
			starts = append(starts, i)
			current = k
		}
	}
	return starts
}

// NewPolicy returns the named policy. hours sets the window for gap-window
// and the bucket width for hour-bucket.
func NewPolicy(name string, hours int, maxGap time.Duration) (Policy, error) {
	switch name {
	case "", PolicyGapWindow:
		return GapWindow{Window: time.Duration(hours) * time.Hour, MaxGap: maxGap}, nil
	case PolicyHourBucket:
		return HourBucket{HoursPerChunk: hours}, nil
	default:
		return nil, fmt.Errorf("unknown chunk policy %q", name)
	}
}

// Sorted drops records without a timestamp and returns the rest in
// ascending time order. Records with equal timestamps keep their file order.
// The input slice is not modified.
func Sorted(records []models.SensorRecord) []models.SensorRecord {
	valid := make([]models.SensorRecord, 0, len(records))
	for _, r := range records {
		if r.HasTimestamp() {
			valid = append(valid, r)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp.Before(valid[j].Timestamp)
	})
	return valid
}

// Build partitions the records of one source into chunks numbered from 0.
// Empty input, or input without any valid timestamp, yields no chunks.
func Build(source string, records []models.SensorRecord, policy Policy) []models.Chunk {
	if policy == nil {
		policy = GapWindow{}
	}
	sorted := Sorted(records)
	if len(sorted) == 0 {
		return nil
	}

	starts := policy.Boundaries(sorted)
	chunks := make([]models.Chunk, 0, len(starts))
	for i, start := range starts {
		end := len(sorted)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		chunks = append(chunks, models.Chunk{
			ID:      i,
			Source:  source,
			Records: sorted[start:end:end],
		})
	}
	return chunks
}
