package flowgraph

import (
	"fmt"
	"time"
)

// FormatDuration renders a span the way build pages do: the two most
// significant units, e.g. "1 hr 5 min", "12 sec", "340 ms".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	hours := (d % (24 * time.Hour)) / time.Hour
	minutes := (d % time.Hour) / time.Minute
	seconds := (d % time.Minute) / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%s %s", plural(int64(days), "day"), plural(int64(hours), "hr"))
	case hours > 0:
		return fmt.Sprintf("%s %s", plural(int64(hours), "hr"), plural(int64(minutes), "min"))
	case minutes > 0:
		return fmt.Sprintf("%s %s", plural(int64(minutes), "min"), plural(int64(seconds), "sec"))
	case d >= 10*time.Second:
		return plural(int64(seconds), "sec")
	case d >= time.Second:
		return fmt.Sprintf("%.1f sec", d.Seconds())
	default:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
}

func plural(n int64, unit string) string {
	// Only "day" is pluralized; the abbreviated units never are.
	if unit == "day" && n != 1 {
		return fmt.Sprintf("%d days", n)
	}
	return fmt.Sprintf("%d %s", n, unit)
}
