package split

import "strings"

type heading struct {
	offset int
	path   []string
}

type headingIndex []heading

// scanHeadings records the ATX heading path in effect at each heading line.
// Lines inside fenced code blocks are ignored.
func scanHeadings(markdown string) headingIndex {
	var (
		index   headingIndex
		stack   []string
		levels  []int
		inFence bool
		offset  int
	)
	for _, line := range strings.SplitAfter(markdown, "\n") {
		start := offset
		offset += len(line)

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		level, title := parseHeading(trimmed)
		if level == 0 {
			continue
		}
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			levels = levels[:len(levels)-1]
			stack = stack[:len(stack)-1]
		}
		levels = append(levels, level)
		stack = append(stack, title)
		index = append(index, heading{offset: start, path: append([]string(nil), stack...)})
	}
	return index
}

// pathAt returns the heading path in effect at byte offset pos.
func (h headingIndex) pathAt(pos int) []string {
	var path []string
	for _, hd := range h {
		if hd.offset > pos {
			break
		}
		path = hd.path
	}
	return path
}

func parseHeading(line string) (int, string) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(line) || line[level] != ' ' {
		return 0, ""
	}
	title := strings.TrimSpace(strings.TrimRight(line[level:], "#"))
	if title == "" {
		return 0, ""
	}
	return level, title
}
