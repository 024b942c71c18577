// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package shared

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tombee/mcphost/internal/mcp"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// Spinner shows a wait indicator with the latest connection status and the
// elapsed time. On a non-TTY writer it prints the message once and stays
// silent afterwards.
type Spinner struct {
	w   io.Writer
	tty bool

	mu      sync.Mutex
	message string
	status  mcp.ConnectionStatus
	started time.Time
	frame   int
	stop    chan struct{}
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{w: w, tty: IsTerminal(w)}
}

// Start shows message. A second Start while running is ignored.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.message = message
	s.status = ""
	s.started = time.Now()
	s.frame = 0
	s.stop = make(chan struct{})

	if !s.tty {
		fmt.Fprintln(s.w, message)
		return
	}
	s.draw()
	go s.tick(s.stop)
}

// SetStatus records the latest status shown next to the message.
func (s *Spinner) SetStatus(st mcp.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = st
	if s.stop != nil && s.tty {
		s.draw()
	}
}

// Stop clears the line and returns the time since Start.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return 0
	}
	close(s.stop)
	s.stop = nil
	if s.tty {
		fmt.Fprint(s.w, "\r\033[K")
	}
	return time.Since(s.started)
}

func (s *Spinner) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.stop == stop {
				s.frame = (s.frame + 1) % len(spinnerFrames)
				s.draw()
			}
			s.mu.Unlock()
		}
	}
}

// draw must be called with mu held.
func (s *Spinner) draw() {
	frame := spinnerFrames[s.frame]
	if !ColorEnabled(s.w) {
		frame = "..."
	}
	line := s.message + " " + Muted.Render(frame)
	if s.status != "" {
		line += " " + RenderConnectionStatus(s.status)
	}
	fmt.Fprintf(s.w, "\r\033[K%s %s", line, Muted.Render("("+FormatElapsed(time.Since(s.started))+")"))
}

// FormatElapsed formats a duration for display (e.g., "12s", "1m 23s")
func FormatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m, sec := int(d/time.Minute), int((d%time.Minute)/time.Second)
	if sec == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm %ds", m, sec)
}
