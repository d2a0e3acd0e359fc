package sensitivity

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Progress receives (done, total) after every finished (parameter set, reaction) cell.
type Progress interface {
	Report(done, total int)
}

type ProgressFunc func(done, total int)

func (f ProgressFunc) Report(done, total int) { f(done, total) }

type nopProgress struct{}

func (nopProgress) Report(int, int) {}

// WriterProgress prints a carriage-return counter and a newline once done == total.
func WriterProgress(w io.Writer) Progress {
	var mu sync.Mutex
	return ProgressFunc(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\r%d / %d", done, total)
		if done == total {
			fmt.Fprintln(w)
		}
	})
}

// LogProgress logs at info level every `every` cells and on completion.
func LogProgress(logger *slog.Logger, every int) Progress {
	if every <= 0 {
		every = 1
	}
	return ProgressFunc(func(done, total int) {
		if done%every == 0 || done == total {
			logger.Info("sensitivity progress", "done", done, "total", total)
		}
	})
}

// tracker serializes reports so sinks see a monotonically increasing count, and
// keeps a panicking sink from aborting the sweep.
type tracker struct {
	mu     sync.Mutex
	sink   Progress
	logger *slog.Logger
	done   int
	total  int
	broken bool
}

func (t *tracker) step() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if t.broken {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.broken = true
			t.logger.Warn("progress sink panicked; further reports dropped", "panic", r)
		}
	}()
	t.sink.Report(t.done, t.total)
}
