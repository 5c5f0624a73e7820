package format

import "github.com/dustin/go-humanize"

// FormatBytes renders a byte count in binary units, e.g. "1.5 KiB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatNumber groups digits in threes: 12345678 becomes "12,345,678".
func FormatNumber(n int64) string {
	return humanize.Comma(n)
}
