package utils

import "fmt"

// BoolToYesNo converts a boolean value to a human-readable "Yes" or "No" string.
//
// Parameters:
//   - value: The boolean to convert
//
// Returns:
//   - "Yes" if value is true, "No" if value is false
func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}

	return "No"
}

// HumanBytes formats a byte count with a binary unit suffix, e.g. "16.0 MiB".
//
// Parameters:
//   - n: The number of bytes
//
// Returns:
//   - n formatted with B, KiB, MiB or GiB
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit && exp < 2; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMG"[exp])
}
