package output

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
)

// Progress draws a single progress bar for a pipeline stream.
// A disabled Progress only counts.
type Progress struct {
	enabled bool
	writer  progress.Writer
	tracker *progress.Tracker
	done    int
	failed  int
}

// NewProgress returns a progress bar labelled message that renders to w
// when enabled.
func NewProgress(w io.Writer, message string, enabled bool) *Progress {
	p := &Progress{
		enabled: enabled && w != nil,
		tracker: &progress.Tracker{Message: message, Units: progress.UnitsDefault},
	}
	if !p.enabled {
		return p
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Percentage = true
	pw.Style().Visibility.Value = true
	pw.AppendTracker(p.tracker)
	p.writer = pw

	go pw.Render()
	for i := 0; i < 100 && !pw.IsRenderInProgress(); i++ {
		time.Sleep(time.Millisecond)
	}
	return p
}

// Observe advances the bar for one stream element. The leading announcement
// sizes the bar.
func Observe[T, R any](p *Progress, result engine.Result[T, R]) {
	if p == nil {
		return
	}
	if result.IsAnnouncement() {
		p.tracker.UpdateTotal(int64(result.Count))
		return
	}
	p.done++
	if result.Failed() {
		p.failed++
	}
	p.tracker.Increment(1)
}

// Done returns the number of items observed and how many failed.
func (p *Progress) Done() (done int, failed int) {
	if p == nil {
		return 0, 0
	}
	return p.done, p.failed
}

// Stop marks the bar complete and waits for the final render.
func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.tracker.MarkAsDone()
	if !p.enabled {
		return
	}
	p.writer.Stop()
	for p.writer.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
