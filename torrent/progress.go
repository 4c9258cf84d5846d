package torrent

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter polls an Engine's Scheduler and PeerSet on a ticker and renders a
// single-line progress bar to stderr, per spec.md §7's external progress
// collaborator.
type Reporter struct {
	name   string
	engine *Engine
	total  int64

	bar *progressbar.ProgressBar
}

// NewReporter builds a Reporter for name (typically the torrent's display
// name) over total bytes.
func NewReporter(name string, engine *Engine, total int64) *Reporter {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWidth(width/4),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(200*time.Millisecond),
	)

	return &Reporter{name: name, engine: engine, total: total, bar: bar}
}

// Run polls the engine every interval and renders a status line until stop
// is closed.
func (r *Reporter) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			r.render()
			return
		case <-ticker.C:
			r.render()
		}
	}
}

func (r *Reporter) render() {
	done := r.engine.Scheduler().DownloadedBytes()
	if done > r.total {
		done = r.total
	}
	r.bar.Set64(done)

	peersActive := r.engine.Peers().Len()
	peersTotal := len(r.engine.Peers().All())

	status := colorstring.Color("[yellow]downloading")
	if r.engine.Done() {
		status = colorstring.Color("[green]complete")
	} else if peersActive == 0 {
		status = colorstring.Color("[red]no peers")
	}

	fmt.Fprintf(os.Stderr, " %s [%d/%d peers]\n", status, peersActive, peersTotal)
}
