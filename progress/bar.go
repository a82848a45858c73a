package progress

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/pierrot-lc/snake-search/format"
)

// Bar tracks iteration progress with a rate and remaining estimate.
type Bar struct {
	message string
	total   int64
	current int64

	started time.Time
}

func NewBar(message string, total, initial int64) *Bar {
	return &Bar{
		message: message,
		total:   total,
		current: initial,
		started: time.Now(),
	}
}

// Set updates the current iteration.
func (b *Bar) Set(value int64) {
	if value > b.total {
		value = b.total
	}
	b.current = value
}

func (b *Bar) percent() float64 {
	if b.total == 0 {
		return 0
	}
	return float64(b.current) / float64(b.total) * 100
}

// rate is iterations per second since the bar started.
func (b *Bar) rate() float64 {
	elapsed := time.Since(b.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(b.current) / elapsed
}

func (b *Bar) remaining() time.Duration {
	rate := b.rate()
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(b.total-b.current)/rate) * time.Second
}

func (b *Bar) String() string {
	termWidth, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termWidth = 80
	}

	var pre strings.Builder
	if b.message != "" {
		message := strings.TrimSpace(b.message)
		if len(message) > 25 {
			message = message[:25]
		}
		fmt.Fprintf(&pre, "%s %3.0f%% ", message, b.percent())
	} else {
		fmt.Fprintf(&pre, "%3.0f%% ", b.percent())
	}

	var suf strings.Builder
	fmt.Fprintf(&suf, " %d/%d", b.current, b.total)
	if b.current > 0 && b.current < b.total {
		fmt.Fprintf(&suf, ", %.1f it/s, %s left", b.rate(), format.HumanDuration(b.remaining()))
	}

	barWidth := termWidth - runewidth.StringWidth(pre.String()) - runewidth.StringWidth(suf.String()) - 2
	if barWidth < 10 {
		return pre.String() + suf.String()
	}

	filled := int(float64(barWidth) * b.percent() / 100)
	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < barWidth; i++ {
		switch {
		case i < filled:
			bar.WriteString("=")
		case i == filled:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	return pre.String() + bar.String() + suf.String()
}
