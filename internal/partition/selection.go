package partition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
)

// MaxBatchSize caps how many partitions can be re-triggered in one request.
const MaxBatchSize = 10

var (
	ErrUnknownPartition = errors.New("partition does not belong to job")
	ErrNoPartitions     = errors.New("at least one partition must be selected")
)

// Selection tracks which of a job's partitions are checked. Order is always the
// job's order: failed partition first, then missing partitions.
type Selection struct {
	order   []string
	checked map[string]bool
}

// NewSelection returns a selection over the job's partitions with nothing checked.
func NewSelection(job domain.Job) *Selection {
	order := dedupe(job.AllPartitions())
	return &Selection{
		order:   order,
		checked: make(map[string]bool, len(order)),
	}
}

// DefaultSelection checks the failed partition and the first batchSize-1 missing
// partitions.
func DefaultSelection(job domain.Job, batchSize int) *Selection {
	sel := NewSelection(job)
	for _, p := range BatchPartitions(job, batchSize) {
		sel.checked[p] = true
	}
	return sel
}

func (s *Selection) Toggle(partition string) error {
	partition = strings.TrimSpace(partition)
	if !s.contains(partition) {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}
	s.checked[partition] = !s.checked[partition]
	return nil
}

func (s *Selection) SelectAll() {
	for _, p := range s.order {
		s.checked[p] = true
	}
}

func (s *Selection) DeselectAll() {
	for _, p := range s.order {
		s.checked[p] = false
	}
}

func (s *Selection) IsSelected(partition string) bool {
	return s.checked[strings.TrimSpace(partition)]
}

// Selected returns the checked partitions in job order.
func (s *Selection) Selected() []string {
	out := make([]string, 0, len(s.order))
	for _, p := range s.order {
		if s.checked[p] {
			out = append(out, p)
		}
	}
	return out
}

// Entry is one row of the selection dialog.
type Entry struct {
	Partition string `json:"partition"`
	Selected  bool   `json:"selected"`
	Failed    bool   `json:"failed"`
}

func (s *Selection) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for i, p := range s.order {
		out = append(out, Entry{Partition: p, Selected: s.checked[p], Failed: i == 0})
	}
	return out
}

func (s *Selection) Clone() *Selection {
	if s == nil {
		return nil
	}
	order := make([]string, len(s.order))
	copy(order, s.order)
	checked := make(map[string]bool, len(s.checked))
	for k, v := range s.checked {
		checked[k] = v
	}
	return &Selection{order: order, checked: checked}
}

func (s *Selection) contains(partition string) bool {
	for _, p := range s.order {
		if p == partition {
			return true
		}
	}
	return false
}

// BatchSizeOptions lists the batch sizes offered for a job: 1 through the number of
// partitions, capped at MaxBatchSize.
func BatchSizeOptions(job domain.Job) []int {
	limit := ClampBatchSize(job, MaxBatchSize)
	out := make([]int, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, i)
	}
	return out
}

// ClampBatchSize bounds size to the batch sizes offered for job.
func ClampBatchSize(job domain.Job, size int) int {
	limit := len(job.MissingPartitions) + 1
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}
	if size < 1 {
		return 1
	}
	if size > limit {
		return limit
	}
	return size
}

// BatchPartitions returns the failed partition followed by the first batchSize-1
// missing partitions.
func BatchPartitions(job domain.Job, batchSize int) []string {
	size := ClampBatchSize(job, batchSize)
	out := make([]string, 0, size)
	out = append(out, job.Partition)
	for _, p := range job.MissingPartitions {
		if len(out) >= size {
			break
		}
		out = append(out, p)
	}
	return dedupe(out)
}

// ToProcess resolves the partitions to send to the backend. An explicit selection
// wins over the batch size.
func ToProcess(job domain.Job, sel *Selection, batchSize int) ([]string, error) {
	var out []string
	if sel != nil {
		out = sel.Selected()
	} else {
		out = BatchPartitions(job, batchSize)
	}
	if len(out) == 0 {
		return nil, ErrNoPartitions
	}
	return out, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
