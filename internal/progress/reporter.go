package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSize is the total size in bytes being transferred.
	TotalSize int64

	// Initial is the number of bytes already transferred.
	Initial int64

	// Name is shown in front of the bar.
	Name string

	// Output is where the bar is drawn. nil discards it.
	Output io.Writer

	// RefreshRate is how often the bar is redrawn.
	// Default: 150ms
	RefreshRate time.Duration
}

// Reporter draws a single byte counter bar.
type Reporter struct {
	progress *mpb.Progress
	bar      *mpb.Bar

	mu      sync.Mutex
	last    time.Time
	total   int64
	closeMu sync.Once
}

// NewReporter creates a reporter and starts rendering.
func NewReporter(opts Options) *Reporter {
	if opts.RefreshRate == 0 {
		opts.RefreshRate = 150 * time.Millisecond
	}

	p := mpb.New(
		mpb.WithOutput(opts.Output),
		mpb.WithRefreshRate(opts.RefreshRate),
		mpb.WithWidth(40),
	)

	// mpb only lets SetTotal change bars created without a total, so the
	// total is set afterwards and completion is triggered by Close.
	bar := p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name(opts.Name, decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.NewPercentage("%.1f "),
			decor.MovingAverageSpeed(decor.SizeB1024(0), "% .2f ", ewma.NewMovingAverage()),
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 30), "done"),
		),
	)
	bar.SetTotal(opts.TotalSize, false)
	if opts.Initial > 0 {
		bar.SetCurrent(opts.Initial)
	}

	return &Reporter{
		progress: p,
		bar:      bar,
		last:     time.Now(),
		total:    opts.TotalSize,
	}
}

// NewStderr returns a reporter drawing to stderr, or one drawing nowhere when
// enabled is false.
func NewStderr(enabled bool, name string, total, initial int64) *Reporter {
	var out io.Writer
	if enabled {
		out = os.Stderr
	}
	return NewReporter(Options{
		TotalSize: total,
		Initial:   initial,
		Name:      name,
		Output:    out,
	})
}

// Skip counts bytes that did not have to be transferred. They do not affect
// the measured speed.
func (r *Reporter) Skip(n int64) {
	r.bar.IncrInt64(n)
	r.mu.Lock()
	r.last = time.Now()
	r.mu.Unlock()
}

// Advance counts bytes transferred since the previous call.
func (r *Reporter) Advance(n int64) {
	r.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(r.last)
	r.last = now
	r.mu.Unlock()

	r.bar.EwmaIncrInt64(n, elapsed)
}

// SetTotal replaces the total, for sources whose size changed after probing.
func (r *Reporter) SetTotal(total int64) {
	r.mu.Lock()
	r.total = total
	r.mu.Unlock()
	r.bar.SetTotal(total, false)
}

// Total returns the current total.
func (r *Reporter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Current returns the number of bytes counted so far.
func (r *Reporter) Current() int64 {
	return r.bar.Current()
}

// Close stops rendering. A bar that never reached its total is left on screen
// as it was. Close is safe to call more than once.
func (r *Reporter) Close() {
	r.closeMu.Do(func() {
		if total := r.Total(); total > 0 && r.bar.Current() >= total {
			r.bar.SetTotal(-1, true)
		} else {
			r.bar.Abort(false)
		}
		r.progress.Wait()
	})
}

// FormatBytes formats bytes with binary units, e.g. "1.5 GiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. "MiB" style suffixes are
// binary, "MB" style suffixes are decimal.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("byte string %q is too large", s)
	}
	return int64(n), nil
}

// FormatDuration formats a duration as a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// Rate returns bytes per second over d, formatted like FormatBytes.
func Rate(n int64, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return FormatBytes(int64(float64(n)/d.Seconds())) + "/s"
}
