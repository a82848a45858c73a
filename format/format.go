// Package format provides human readable formatting of quantities.
package format

import (
	"fmt"
	"math"
	"time"
)

const (
	Byte     = 1
	KibiByte = Byte * 1024
	MebiByte = KibiByte * 1024
	GibiByte = MebiByte * 1024

	KiloByte = Byte * 1000
	MegaByte = KiloByte * 1000
	GigaByte = MegaByte * 1000
)

func HumanBytes(b int64) string {
	switch {
	case b >= GigaByte:
		return fmt.Sprintf("%.1f GB", float64(b)/GigaByte)
	case b >= MegaByte:
		return fmt.Sprintf("%.1f MB", float64(b)/MegaByte)
	case b >= KiloByte:
		return fmt.Sprintf("%.1f KB", float64(b)/KiloByte)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// HumanNumber formats large counts with a metric suffix, used for
// parameter counts in model summaries.
func HumanNumber(b uint64) string {
	switch {
	case b >= 1e9:
		number := float64(b) / 1e9
		if number == math.Floor(number) {
			return fmt.Sprintf("%.0fB", number)
		}
		return fmt.Sprintf("%.1fB", number)
	case b >= 1e6:
		number := float64(b) / 1e6
		if number == math.Floor(number) {
			return fmt.Sprintf("%.0fM", number)
		}
		return fmt.Sprintf("%.1fM", number)
	case b >= 1e3:
		return fmt.Sprintf("%.0fK", float64(b)/1e3)
	default:
		return fmt.Sprintf("%d", b)
	}
}

func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// HumanTime renders a timestamp relative to now, or orElse for the zero
// time.
func HumanTime(t time.Time, orElse string) string {
	if t.IsZero() {
		return orElse
	}

	delta := time.Since(t)
	if delta < 0 {
		return t.Format("Jan 2 15:04")
	}

	switch {
	case delta < time.Minute:
		return "Just now"
	case delta < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(delta.Hours()))
	case delta < 30*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(delta.Hours()/24))
	default:
		return t.Format("Jan 2 2006")
	}
}
