package logging

import "strconv"

// MaxLogFieldLength is the default cap for logged field values
const MaxLogFieldLength = 1024

// Truncate shortens a string to MaxLogFieldLength, appending "..." if cut
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN shortens a string to at most n characters, appending "..." if cut
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateSlice limits a slice to maxItems entries, summarizing the remainder
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	result := make([]string, 0, maxItems+1)
	result = append(result, items[:maxItems]...)
	result = append(result, "... and "+itoa(len(items)-maxItems)+" more")
	return result
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
