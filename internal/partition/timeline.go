package partition

import (
	"sort"
	"strings"

	"github.com/animus-labs/retrigger/internal/domain"
)

type TimelineEntry struct {
	Partition string                 `json:"partition"`
	Display   string                 `json:"display"`
	Status    domain.PartitionStatus `json:"status"`
}

type MonthGroup struct {
	Month      string          `json:"month"`
	Partitions []TimelineEntry `json:"partitions"`
}

// Timeline groups the union of current, missing and processing partitions by month,
// in ascending partition order.
func Timeline(current string, missing, processing []string) []MonthGroup {
	all := make([]string, 0, len(missing)+len(processing)+1)
	all = append(all, current)
	all = append(all, missing...)
	all = append(all, processing...)
	all = dedupe(all)
	sort.Strings(all)

	var groups []MonthGroup
	index := map[string]int{}
	for _, p := range all {
		month := MonthOf(p)
		i, ok := index[month]
		if !ok {
			i = len(groups)
			index[month] = i
			groups = append(groups, MonthGroup{Month: month})
		}
		groups[i].Partitions = append(groups[i].Partitions, TimelineEntry{
			Partition: p,
			Display:   FormatPartition(p),
			Status:    Status(p, current, missing, processing),
		})
	}
	return groups
}

// Status applies PROCESSING > FAILED > MISSING > COMPLETED.
func Status(partition, current string, missing, processing []string) domain.PartitionStatus {
	switch {
	case contains(processing, partition):
		return domain.PartitionProcessing
	case partition == current:
		return domain.PartitionFailed
	case contains(missing, partition):
		return domain.PartitionMissing
	default:
		return domain.PartitionCompleted
	}
}

// MonthOf returns "YYYY-MM" for dashed partitions and "YYYYMM" for compact ones.
func MonthOf(partition string) string {
	if strings.Contains(partition, "-") {
		parts := strings.SplitN(partition, "-", 3)
		if len(parts) >= 2 {
			return parts[0] + "-" + parts[1]
		}
		return parts[0]
	}
	if len(partition) >= 6 {
		return partition[:6]
	}
	return partition
}

// FormatPartition renders YYYYMMDD as YYYY-MM-DD and leaves other values unchanged.
func FormatPartition(partition string) string {
	if !strings.Contains(partition, "-") && len(partition) == 8 {
		return partition[:4] + "-" + partition[4:6] + "-" + partition[6:]
	}
	return partition
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if strings.TrimSpace(item) == v {
			return true
		}
	}
	return false
}
