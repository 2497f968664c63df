package archive

import (
	"strconv"

	"asset-harvester/internal/model"
)

// sizeEstimate sums the sizes discovery reported for the queued items. Web
// assets usually have none, so the estimate may cover only part of the queue.
type sizeEstimate struct {
	bytesByID  map[string]int64
	totalBytes int64
	unknown    int
}

func estimateSizes(items []model.Item) sizeEstimate {
	e := sizeEstimate{bytesByID: make(map[string]int64, len(items))}
	for _, it := range items {
		if it.ExpectedSize <= 0 {
			e.unknown++
			continue
		}
		e.bytesByID[it.ID] = it.ExpectedSize
		e.totalBytes += it.ExpectedSize
	}
	return e
}

func (e sizeEstimate) hasEstimate() bool {
	return e.totalBytes > 0
}

// completedBytes returns the estimated bytes of the given completed ids.
func (e sizeEstimate) completedBytes(done map[string]bool) int64 {
	if e.totalBytes <= 0 {
		return 0
	}
	var sum int64
	for id := range done {
		sum += e.bytesByID[id]
	}
	return min(sum, e.totalBytes)
}

func formatBytesIEC(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return fmtInt(n) + " B"
	}
	div, exp := int64(unit), 0
	for q := n / unit; q >= unit; q /= unit {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	suffix := "KMGTPE"[exp]
	return fmtFloat1(value) + " " + string(suffix) + "iB"
}

// FormatBytes renders n with binary units.
func FormatBytes(n int64) string {
	return formatBytesIEC(n)
}

func fmtInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func fmtFloat1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
