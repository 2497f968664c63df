package archive

import (
	"fmt"
	"strings"
	"time"
)

// workerProgress is the live state of the transfer one worker is running.
type workerProgress struct {
	itemID  string
	path    string
	attempt int
	bytes   int64
	total   int64
	started time.Time

	rate      float64 // bytes per second, smoothed
	lastBytes int64
	lastAt    time.Time
}

func newWorkerProgress(itemID, path string, attempt int, total int64, at time.Time) *workerProgress {
	return &workerProgress{
		itemID:  itemID,
		path:    path,
		attempt: attempt,
		total:   total,
		started: at,
		lastAt:  at,
	}
}

func (p *workerProgress) update(bytes, total int64, at time.Time) {
	if total > 0 {
		p.total = total
	}
	if dt := at.Sub(p.lastAt).Seconds(); dt > 0 && bytes >= p.lastBytes {
		inst := float64(bytes-p.lastBytes) / dt
		if p.rate == 0 {
			p.rate = inst
		} else {
			p.rate = 0.7*p.rate + 0.3*inst
		}
	}
	p.bytes = bytes
	p.lastBytes = bytes
	p.lastAt = at
}

// fraction is the completed share of the transfer, or -1 when the size is unknown.
func (p *workerProgress) fraction() float64 {
	if p.total <= 0 {
		return -1
	}
	return min(float64(p.bytes)/float64(p.total), 1)
}

func (p *workerProgress) render() string {
	parts := []string{shortenPath(p.path, 52)}
	if p.attempt > 1 {
		parts = append(parts, fmt.Sprintf("attempt %d", p.attempt))
	}
	if f := p.fraction(); f >= 0 {
		parts = append(parts, fmt.Sprintf("%.1f%%", f*100))
		parts = append(parts, fmt.Sprintf("%s/%s", formatBytesIEC(p.bytes), formatBytesIEC(p.total)))
	} else {
		parts = append(parts, formatBytesIEC(p.bytes))
	}
	if p.rate > 0 {
		parts = append(parts, formatRate(p.rate))
	}
	return strings.Join(parts, "  ")
}

func formatRate(bytesPerSec float64) string {
	return formatBytesIEC(int64(bytesPerSec)) + "/s"
}

func shortenPath(p string, max int) string {
	if len(p) <= max || max < 4 {
		return p
	}
	return "..." + p[len(p)-max+3:]
}
