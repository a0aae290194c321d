package progress

import (
	"fmt"
	"time"
)

// FormatTime renders a duration as H:MM:SS when it reaches an hour and as
// M:SS otherwise. Hours are zero-padded to two digits.
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalSeconds := int64(d / time.Second)
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatMillis is FormatTime for millisecond counts as stored on the leaderboard.
func FormatMillis(ms int64) string {
	return FormatTime(time.Duration(ms) * time.Millisecond)
}
