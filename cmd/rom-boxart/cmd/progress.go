package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/gosuri/uilive"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"

	"go-rom-boxart/internal/downloader"
	"go-rom-boxart/internal/helpers"
)

// datProgress renders DAT download progress. On a terminal the line is
// redrawn in place; elsewhere progress is logged in 25% steps.
type datProgress struct {
	live *uilive.Writer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newDatProgress(out io.Writer) *datProgress {
	p := &datProgress{}
	if isTerminal(out) {
		p.live = uilive.New()
		p.live.Out = out
		p.live.Start()
	}
	return p
}

// For returns the progress callback for one DAT download.
func (p *datProgress) For(datName string) downloader.ProgressFunc {
	lastStep := -1
	return func(downloaded, total uint64) {
		pct := helpers.Percent(downloaded, total)
		if p.live != nil {
			if total > 0 {
				fmt.Fprintf(p.live, "Downloading %s: %d%% (%s / %s)\n", datName, pct, helpers.BytesToSize(downloaded), helpers.BytesToSize(total))
			} else {
				fmt.Fprintf(p.live, "Downloading %s: %s\n", datName, helpers.BytesToSize(downloaded))
			}
			return
		}
		if step := pct / 25; total > 0 && step != lastStep {
			lastStep = step
			log.Infof("Downloading %s: %d%%", datName, pct)
		}
	}
}

// Stop ends in-place rendering.
func (p *datProgress) Stop() {
	if p.live != nil {
		p.live.Stop()
	}
}
