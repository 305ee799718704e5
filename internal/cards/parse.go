package cards

import (
	"bufio"
	"strings"
)

// ParseTSV reads front/back pairs from loosely formatted model output.
// Each non-blank line is split on tabs; lines without a tab fall back to
// "|" and then ",". Lines with fewer than two fields are skipped. Fields
// beyond the second are appended to the back. A field wrapped in double
// quotes is unquoted, with "" collapsed to ".
func ParseTSV(text string) []Candidate {
	var out []Candidate
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := splitLine(line)
		if len(parts) < 2 {
			continue
		}

		front := unquote(strings.TrimSpace(parts[0]))
		back := unquote(strings.TrimSpace(parts[1]))
		if len(parts) > 2 {
			extra := strings.Join(parts[2:], "\t")
			back = unquote(strings.TrimSpace(back + " " + extra))
		}
		if front == "" {
			continue
		}
		out = append(out, Candidate{Front: front, Back: back})
	}
	return out
}

func splitLine(line string) []string {
	switch {
	case strings.Contains(line, "\t"):
		return strings.Split(line, "\t")
	case strings.Contains(line, "|"):
		return strings.Split(line, "|")
	case strings.Contains(line, ","):
		return strings.Split(line, ",")
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}
