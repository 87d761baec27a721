package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking-free spinner for one-shot CLI steps that run
// before or after the call view.
type SimpleSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
}

func newSpinner(message string, s spinner.Spinner, interval time.Duration) *SimpleSpinner {
	return &SimpleSpinner{
		out:      os.Stderr,
		message:  message,
		spinner:  s,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// NewSimpleSpinner creates a spinner for local work (Dot style).
func NewSimpleSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Dot, 80*time.Millisecond)
}

// NewConnectionSpinner creates a spinner for relay round trips (Globe style).
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Globe, 180*time.Millisecond)
}

func (s *SimpleSpinner) Start() {
	go func() {
		frames := s.spinner.Frames
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			if !s.stopped {
				fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			}
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *SimpleSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunSpinner starts a loading spinner and returns a stop function.
func RunSpinner(message string) func() {
	sp := NewSimpleSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns a stop function.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
