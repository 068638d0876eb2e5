package fileshare

import (
	"os"

	"github.com/cheggaaa/pb"
	spinner "github.com/odeke-em/cli-spinner"

	"github.com/mattn/go-isatty"
)

// StdoutIsTTY reports whether stdout is attached to a terminal, the way
// teacher's Options.StdoutIsTty is derived in commands.go's New() via
// isatty.IsTerminal. Progress bars and spinners are only drawn when this
// is true, so piping fileshare's output never mixes control characters
// into a log file.
func StdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// newProgressBar starts a byte-count progress bar for total bytes of
// transfer, or returns nil when tty is false or there is nothing to show,
// mirroring teacher's newProgressBar/taskStart pair in commands.go.
func newProgressBar(total int64, tty bool) *pb.ProgressBar {
	if !tty || total <= 0 {
		return nil
	}
	bar := pb.New64(total)
	bar.Start()
	return bar
}

// drainProgressBar folds per-chunk byte counts from ch into bar until ch
// is closed, the way Commands.taskAdd advances the bar as chunks land. A
// nil bar is a valid no-op target so callers don't need to branch.
func drainProgressBar(bar *pb.ProgressBar, ch <-chan int64) {
	for n := range ch {
		if bar != nil {
			bar.Add64(n)
		}
	}
	if bar != nil {
		bar.Finish()
	}
}

// newSpinner returns an indeterminate spinner for the remote listing
// fetch (Repository.Remote() has no byte count to drive a progress bar
// against), or nil when tty is false, mirroring teacher's
// playabler()/noopPlayable() pair in misc.go.
func newSpinner(tty bool) *spinner.Spinner {
	if !tty {
		return nil
	}
	return spinner.New(10)
}

func startSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Start()
	}
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
