package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"msync"
)

// statsCollector aggregates operation counts and byte totals using atomic operations.
type statsCollector struct {
	readdir  atomic.Uint64
	symlinks atomic.Uint64
	ignored  atomic.Uint64
	digests  atomic.Uint64
	decided  atomic.Uint64
	copies   atomic.Uint64
	atomics  atomic.Uint64
	bytes    atomic.Uint64
	chtimes  atomic.Uint64
	unlink   atomic.Uint64
	rmdir    atomic.Uint64
	errors   atomic.Uint64
}

// statsSnapshot captures a point-in-time view of collected statistics.
type statsSnapshot struct {
	readdir  uint64
	symlinks uint64
	ignored  uint64
	digests  uint64
	decided  uint64
	copies   uint64
	atomics  uint64
	bytes    uint64
	chtimes  uint64
	unlink   uint64
	rmdir    uint64
	errors   uint64
}

// snapshot returns a consistent view of current stats at a given moment.
func (s *statsCollector) snapshot() statsSnapshot {
	return statsSnapshot{
		readdir:  s.readdir.Load(),
		symlinks: s.symlinks.Load(),
		ignored:  s.ignored.Load(),
		digests:  s.digests.Load(),
		decided:  s.decided.Load(),
		copies:   s.copies.Load(),
		atomics:  s.atomics.Load(),
		bytes:    s.bytes.Load(),
		chtimes:  s.chtimes.Load(),
		unlink:   s.unlink.Load(),
		rmdir:    s.rmdir.Load(),
		errors:   s.errors.Load(),
	}
}

// reset zeroes every counter so that totals and rates cover a single run.
func (s *statsCollector) reset() {
	for _, c := range []*atomic.Uint64{
		&s.readdir, &s.symlinks, &s.ignored, &s.digests, &s.decided, &s.copies,
		&s.atomics, &s.bytes, &s.chtimes, &s.unlink, &s.rmdir, &s.errors,
	} {
		c.Store(0)
	}
}

// attach installs the counting hooks on cb. OnMessage, OnPhase and OnProgress are left untouched.
func (s *statsCollector) attach(cb msync.Callbacks) msync.Callbacks {
	cb.OnReadDir = func(path string, entries []os.DirEntry, err error) {
		if err == nil {
			s.readdir.Add(1)
		} else {
			s.errors.Add(1)
		}
	}
	cb.OnSymlink = func(path string) { s.symlinks.Add(1) }
	cb.OnIgnore = func(path string) { s.ignored.Add(1) }
	cb.OnDigest = func(path string, res msync.DigestResult, err error) {
		if err == nil {
			s.digests.Add(1)
		} else {
			s.errors.Add(1)
		}
	}
	cb.OnDecide = func(srcPath, dstPath string, mustCopy bool) { s.decided.Add(1) }
	cb.OnCopy = func(srcPath, dstPath string, size int64, fromBuffer bool, err error) {
		if err != nil {
			s.errors.Add(1)
			return
		}
		s.copies.Add(1)
		if fromBuffer {
			s.atomics.Add(1)
		}
		if size > 0 {
			s.bytes.Add(uint64(size))
		}
	}
	cb.OnChtimes = countErr(&s.chtimes, &s.errors)
	cb.OnUnlink = countErr(&s.unlink, &s.errors)
	cb.OnRmdir = countErr(&s.rmdir, &s.errors)
	return cb
}

func countErr(ok, failed *atomic.Uint64) func(path string, err error) {
	return func(path string, err error) {
		if err != nil {
			failed.Add(1)
			return
		}
		ok.Add(1)
	}
}

// runStatsPrinter prints stats every interval until done is closed.
func runStatsPrinter(w io.Writer, stats *statsCollector, done <-chan struct{}, start time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := stats.snapshot()
	lastTime := start
	for {
		select {
		case <-ticker.C:
			cur := stats.snapshot()
			printStatsTable(w, cur, last, start, lastTime)
			last = cur
			lastTime = time.Now()
		case <-done:
			return
		}
	}
}

// printStatsTable renders operation totals with overall and interval rates.
func printStatsTable(w io.Writer, cur, prev statsSnapshot, start, prevTime time.Time) {
	elapsed := time.Since(start).Seconds()
	interval := time.Since(prevTime).Seconds()
	if elapsed == 0 {
		elapsed = 1
	}
	if interval == 0 {
		interval = 1
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Row = text.Colors{text.Reset}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.AppendHeader(table.Row{text.Bold.Sprint("Operation"), text.Bold.Sprint("Total"), text.Bold.Sprint("Avg/s"), text.Bold.Sprint("Avg/s (interval)")})

	for _, name := range statNames {
		total := statValue(cur, name)
		if total == 0 {
			continue
		}
		totalRate := float64(total) / elapsed
		intervalRate := float64(total-statValue(prev, name)) / interval
		if name == "bytes" {
			t.AppendRow(table.Row{text.Bold.Sprint(name), formatBytes(total), formatBytesRate(totalRate), formatBytesRate(intervalRate)})
			continue
		}
		t.AppendRow(table.Row{text.Bold.Sprint(name), formatCount(total), formatScaledFloat(totalRate, "/s"), formatScaledFloat(intervalRate, "/s")})
	}
	t.Render()
}

var statNames = []string{"readdir", "symlink", "ignore", "digest", "decide", "copy", "buffered", "bytes", "chtimes", "unlink", "rmdir", "error"}

// statValue returns the total for a named operation from a snapshot.
func statValue(s statsSnapshot, name string) uint64 {
	switch name {
	case "readdir":
		return s.readdir
	case "symlink":
		return s.symlinks
	case "ignore":
		return s.ignored
	case "digest":
		return s.digests
	case "decide":
		return s.decided
	case "copy":
		return s.copies
	case "buffered":
		return s.atomics
	case "bytes":
		return s.bytes
	case "chtimes":
		return s.chtimes
	case "unlink":
		return s.unlink
	case "rmdir":
		return s.rmdir
	case "error":
		return s.errors
	default:
		return 0
	}
}

// printSummary renders the final report of a run, followed by its failures.
func printSummary(w io.Writer, rep *msync.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Summary")
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.AppendRows([]table.Row{
		{"Duration", rep.Duration().Truncate(time.Millisecond).String()},
		{"Files", formatCount(uint64(rep.Files))},
		{"Directories", formatCount(uint64(rep.Dirs))},
		{"Copied", formatCount(uint64(rep.Copied))},
		{"Copied from buffer", formatCount(uint64(rep.Atomic))},
		{"Unchanged", formatCount(uint64(rep.Unchanged))},
		{"Timestamps repaired", formatCount(uint64(rep.Healed))},
		{"Copied data size", formatBytes(uint64(rep.BytesCopied))},
		{"Deleted files", formatCount(uint64(rep.Deleted))},
		{"Deleted data size", formatBytes(uint64(rep.DeletedBytes))},
		{"Removed directories", formatCount(uint64(rep.DirsRemoved))},
		{"Failures", formatCount(uint64(len(rep.Failures)))},
	})
	if secs := rep.Duration().Seconds(); secs > 0 {
		t.AppendRow(table.Row{"Copy speed", formatBytesRate(float64(rep.BytesCopied) / secs)})
	}
	t.Render()

	if len(rep.Failures) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleRounded)
	ft.AppendHeader(table.Row{"Operation", "Path", "Error"})
	for _, f := range rep.Failures {
		ft.AppendRow(table.Row{string(f.Op), f.Path, text.FgRed.Sprint(f.Err.Error())})
	}
	ft.Render()
}

// formatScaledFloat renders a float using scaled units (k, m, g, t...) with one decimal place.
// Returns an empty string when the value is zero.
func formatScaledFloat(v float64, suffix string) string {
	if v == 0 {
		return ""
	}
	units := []string{"", "k", "m", "g", "t", "p", "e"}
	idx := 0
	abs := v
	if abs < 0 {
		abs = -abs
	}
	for abs >= 1000 && idx < len(units)-1 {
		v /= 1000
		abs /= 1000
		idx++
	}
	return fmt.Sprintf("%.1f%s%s", v, units[idx], suffix)
}

// formatCount formats an unsigned integer with thousands separators.
func formatCount(n uint64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	rem := len(s) % 3
	if rem == 0 {
		rem = 3
	}
	b.WriteString(s[:rem])
	for i := rem; i < len(s); i += 3 {
		b.WriteString(",")
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatBytes formats a byte count as a human-readable string (B, KB, MB, GB, TB).
func formatBytes(n uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	idx := 0
	for v >= 1024 && idx < len(units)-1 {
		v /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", v, units[idx])
}

// formatBytesRate formats a transfer rate in bytes/sec as a human-readable string.
func formatBytesRate(rate float64) string {
	if rate < 0 {
		rate = 0
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	v := rate
	idx := 0
	for v >= 1024 && idx < len(units)-1 {
		v /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", v, units[idx])
}
