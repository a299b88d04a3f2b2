package arq

import (
	"strings"
)

// Downshift looks current up in a list of "current,next" pairs and returns
// the bandwidth to try after it. ok is false when current has no entry.
func Downshift(list []string, current string) (string, bool) {
	for _, entry := range list {
		cur, next, found := strings.Cut(entry, ",")
		if !found {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(cur), current) {
			return strings.ToUpper(strings.TrimSpace(next)), true
		}
	}

	return "", false
}

// DownshiftSequence returns the bandwidths a call starting at start tries
// after successive rejections, ending before the list returns to start.
func DownshiftSequence(list []string, start string) []string {
	var seq []string

	current := start
	for i := 0; i < len(list); i++ {
		next, ok := Downshift(list, current)
		if !ok || strings.EqualFold(next, start) {
			break
		}
		seq = append(seq, next)
		current = next
	}

	return seq
}
