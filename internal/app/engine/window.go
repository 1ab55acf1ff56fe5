package engine

import (
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
)

// windowManager owns the active window and the generation counter that fences
// stale fetch results. Every change that invalidates in-flight aggregate
// sequences (mode, bounds, live duration, metric set) bumps the generation;
// a result tagged with an older generation is discarded on arrival.
type windowManager struct {
	win             domain.Window
	defaultDuration time.Duration
	gen             uint64
}

func newWindowManager(defaultDuration time.Duration) *windowManager {
	return &windowManager{defaultDuration: defaultDuration}
}

func (w *windowManager) bump() uint64 {
	w.gen++
	return w.gen
}

func (w *windowManager) generation() uint64 { return w.gen }

func (w *windowManager) window() domain.Window { return w.win }

func (w *windowManager) set(win domain.Window, now time.Time) {
	if win.Mode == domain.ModeLive {
		d := win.Duration
		if d <= 0 {
			d = w.defaultDuration
		}
		w.win = domain.LiveWindow(now, d)
		return
	}
	w.win = win
}

// resetToLive restores the default trailing window, per the explicit
// "reset to live" transition.
func (w *windowManager) resetToLive(now time.Time) {
	w.win = domain.LiveWindow(now, w.defaultDuration)
}

// advance slides a live window so End tracks the latest tick and returns the
// trim cutoff. It reports false in historical/custom mode, where no rolling
// trim happens.
func (w *windowManager) advance(now time.Time) (time.Time, bool) {
	if w.win.Mode != domain.ModeLive {
		return time.Time{}, false
	}
	w.win.End = now
	w.win.Start = now.Add(-w.win.Duration)
	return w.win.Start, true
}

// fetchRange is the range the aggregate backfill should cover, ok=false when
// the window cannot drive a fetch (incomplete custom bounds).
func (w *windowManager) fetchRange(now time.Time) (start, end time.Time, ok bool) {
	if !w.win.Complete() {
		return time.Time{}, time.Time{}, false
	}
	if w.win.Mode == domain.ModeLive {
		return now.Add(-w.win.Duration), now, true
	}
	return w.win.Start, w.win.End, true
}

func (w *windowManager) isLive() bool { return w.win.Mode == domain.ModeLive }
