package capture

// NormalizeInterval applies the tick-period policy: the literal value 1
// passes through unchanged, anything else is rounded to the nearest multiple
// of 5 with a minimum of 5, matching the UI slider's steps.
func NormalizeInterval(seconds int) int {
	if seconds == 1 {
		return 1
	}
	if seconds < 5 {
		return 5
	}
	rounded := (seconds + 2) / 5 * 5
	if rounded < 5 {
		return 5
	}
	return rounded
}
