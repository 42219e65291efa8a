package main

import (
	"fmt"
	"io"
	"time"

	"github.com/maauso/stillcast/internal/media"
)

// progressPrinter redraws a single status line, at most once per interval.
// The last update is always shown by Finish.
type progressPrinter struct {
	w        io.Writer
	total    float64
	interval time.Duration
	now      func() time.Time

	last    time.Time
	pending *media.Event
	drawn   bool
}

func newProgressPrinter(w io.Writer, total float64, interval time.Duration) *progressPrinter {
	return &progressPrinter{w: w, total: total, interval: interval, now: time.Now}
}

// Update records a progress event and redraws if the interval has passed.
func (p *progressPrinter) Update(ev media.Event) {
	now := p.now()
	if p.drawn && now.Sub(p.last) < p.interval {
		p.pending = &ev
		return
	}
	p.draw(ev)
	p.last = now
}

// Finish draws any coalesced update and ends the status line.
func (p *progressPrinter) Finish() {
	if p.pending != nil {
		p.draw(*p.pending)
	}
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func (p *progressPrinter) draw(ev media.Event) {
	fmt.Fprintf(p.w, "\rProgress: %5.1f%% (%.2fs / %.2fs)", ev.Percent, ev.Elapsed, p.total)
	p.drawn = true
	p.pending = nil
}
