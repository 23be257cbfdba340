package llm

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameSize = 1 << 20

// scanDataLines calls fn with the payload of each "data:" line in r until fn
// returns false or r is exhausted.
func scanDataLines(r io.Reader, fn func(payload string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}
		if !fn(payload) {
			return nil
		}
	}
	return sc.Err()
}
