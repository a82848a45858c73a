// Package progress renders terminal progress for long running
// commands: a ticking multi-line display holding bars and spinners.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// State is anything the display can render as one line.
type State interface {
	String() string
}

// Progress drives a repainting block of state lines on a terminal.
type Progress struct {
	mu sync.Mutex
	w  io.Writer

	pos    int
	ticker *time.Ticker
	states []State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: w}
	go p.start()
	return p
}

func (p *Progress) stop() bool {
	for _, state := range p.states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}

	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
		p.render()
		return true
	}
	return false
}

// Stop halts the ticker, leaving the rendered lines in place.
func (p *Progress) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	stopped := p.stop()
	if stopped {
		fmt.Fprint(p.w, "\n")
	}
	return stopped
}

// StopAndClear halts the ticker and erases the rendered lines.
func (p *Progress) StopAndClear() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, "\033[?25l")
	defer fmt.Fprint(p.w, "\033[?25h")

	stopped := p.stop()
	if stopped {
		// Clear the lines the display painted.
		for i := range p.pos {
			if i > 0 {
				fmt.Fprint(p.w, "\033[A")
			}
			fmt.Fprint(p.w, "\033[2K\033[1G")
		}
	}
	return stopped
}

// Add appends one state line to the display.
func (p *Progress) Add(_ string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

func (p *Progress) render() {
	fmt.Fprint(p.w, "\033[?25l")
	defer fmt.Fprint(p.w, "\033[?25h")

	// Move the cursor back up to the first line of the block.
	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}
	fmt.Fprint(p.w, "\033[1G")

	buf := bufio.NewWriter(p.w)
	for i, state := range p.states {
		if i > 0 {
			fmt.Fprint(buf, "\n")
		}
		fmt.Fprint(buf, state.String(), "\033[K")
	}
	buf.Flush()

	p.pos = len(p.states)
}

func (p *Progress) start() {
	p.ticker = time.NewTicker(100 * time.Millisecond)
	for range p.ticker.C {
		p.mu.Lock()
		p.render()
		p.mu.Unlock()
	}
}
