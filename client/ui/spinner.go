package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Spinner shows the progress of a single request to the workloads API.
type Spinner struct {
	*spinner.Spinner
	msg     string
	started time.Time
}

// NewSpinner starts a spinner with the given message on stderr.
func NewSpinner(msg string) *Spinner {
	s := &Spinner{
		Spinner: spinner.New(
			spinner.CharSets[14],
			200*time.Millisecond,
			spinner.WithHiddenCursor(true),
			spinner.WithWriter(os.Stderr),
			spinner.WithSuffix(" "+msg),
		),
		msg:     msg,
		started: time.Now(),
	}
	s.Start()
	return s
}

// Success stops the spinner with a green check mark.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Success(msg ...string) {
	s.finish(color.HiGreenString("✓"), msg)
}

// Warn stops the spinner with a yellow exclamation mark.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Warn(msg ...string) {
	s.finish(color.HiYellowString("!"), msg)
}

// Fail stops the spinner with a red cross.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Fail(msg ...string) {
	s.finish(color.HiRedString("✗"), msg)
}

func (s *Spinner) finish(symbol string, msg []string) {
	if s == nil {
		return
	}

	final := s.msg
	if len(msg) > 0 {
		final = msg[0]
	}
	elapsed := time.Since(s.started).Truncate(10 * time.Millisecond)
	s.Spinner.FinalMSG = fmt.Sprintf("%s %s %s\n", symbol, final, color.HiBlackString("(%s)", elapsed))
	s.Stop()
}
