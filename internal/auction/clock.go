package auction

import (
	"fmt"
	"time"

	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

// ClockState classifies an item's temporal state.
type ClockState int

const (
	Open ClockState = iota
	Ended
	NeverCloses
)

func (s ClockState) String() string {
	switch s {
	case Open:
		return "open"
	case Ended:
		return "ended"
	case NeverCloses:
		return "never_closes"
	default:
		return "unknown"
	}
}

// Classify derives the clock state from the item's end time and an
// explicitly passed now. All callers must use the shared storage clock
// for now, so every observer classifies the same item identically.
func Classify(item types.Item, now time.Time) ClockState {
	if item.EndTime == nil {
		return NeverCloses
	}
	if !now.Before(*item.EndTime) {
		return Ended
	}
	return Open
}

// TimeRemaining returns the duration until close. Only meaningful for
// items Classify reports as Open; ok is false otherwise.
func TimeRemaining(item types.Item, now time.Time) (time.Duration, bool) {
	if Classify(item, now) != Open {
		return 0, false
	}
	return item.EndTime.Sub(now), true
}

// FormatTimeLeft renders the remaining time the way the item listing
// shows it: the two most significant units, or "ended".
func FormatTimeLeft(item types.Item, now time.Time) string {
	remaining, ok := TimeRemaining(item, now)
	if !ok {
		if Classify(item, now) == Ended {
			return "ended"
		}
		return ""
	}

	days := int(remaining.Hours()) / 24
	hours := int(remaining.Hours()) % 24
	minutes := int(remaining.Minutes()) % 60
	seconds := int(remaining.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
