// ABOUTME: Hooks-log watchdog: warns when the shared hooks log grows large
// ABOUTME: and truncates it to a tail once it passes the hard limit.

package health

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options configures the watchdog. Thresholds are in bytes; zero fields
// take defaults.
type Options struct {
	Path          string
	WarnBytes     int64
	TruncateBytes int64
	KeepLines     int
	Interval      time.Duration
}

func (o Options) withDefaults() Options {
	if o.WarnBytes <= 0 {
		o.WarnBytes = 100 << 20
	}
	if o.TruncateBytes <= 0 {
		o.TruncateBytes = 500 << 20
	}
	if o.KeepLines <= 0 {
		o.KeepLines = 1000
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	return o
}

// Checker watches one log file. Check is called from the serial consumer
// on logic ticks and self-gates to the configured interval, so no
// goroutine or lock is needed.
type Checker struct {
	opts      Options
	logger    *slog.Logger
	lastCheck time.Time
	warning   string
}

// New creates a checker for the file at opts.Path.
func New(opts Options, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "health"),
	}
}

// Warning returns the current warning text, empty when healthy.
func (c *Checker) Warning() string { return c.warning }

// Check runs at most once per interval against now and returns the current
// warning. A missing file is healthy; a file over the truncate threshold
// is rewritten keeping the newest lines.
func (c *Checker) Check(now time.Time) string {
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.opts.Interval {
		return c.warning
	}
	c.lastCheck = now

	info, err := os.Stat(c.opts.Path)
	if err != nil {
		c.warning = ""
		return c.warning
	}
	size := info.Size()

	switch {
	case size >= c.opts.TruncateBytes:
		if err := c.truncate(); err != nil {
			c.warning = fmt.Sprintf("hooks log at %d MB, truncation failed: %v", size>>20, err)
			c.logger.Error("hooks log truncation failed", "path", c.opts.Path, "error", err)
		} else {
			c.warning = ""
			c.logger.Info("hooks log truncated",
				"path", c.opts.Path, "was_mb", size>>20, "kept_lines", c.opts.KeepLines)
		}
	case size >= c.opts.WarnBytes:
		c.warning = fmt.Sprintf("hooks log at %d MB, truncation at %d MB",
			size>>20, c.opts.TruncateBytes>>20)
	default:
		c.warning = ""
	}
	return c.warning
}

// truncate rewrites the file keeping the newest KeepLines lines, via a
// temp file renamed into place.
func (c *Checker) truncate() error {
	f, err := os.Open(c.opts.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	ring := make([]string, c.opts.KeepLines)
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		ring[n%c.opts.KeepLines] = scanner.Text()
		n++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	keep := ring[:min(n, c.opts.KeepLines)]
	if n > c.opts.KeepLines {
		start := n % c.opts.KeepLines
		keep = append(append(make([]string, 0, c.opts.KeepLines), ring[start:]...), ring[:start]...)
	}

	dir := filepath.Dir(c.opts.Path)
	tmp, err := os.CreateTemp(dir, ".hooks-log-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range keep {
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.opts.Path)
}
