package value

import (
	"fmt"
	"strconv"
	"strings"
)

// PathError is returned when a dot-path is malformed or a write would
// require extending a sequence beyond the state's auto-extend bound
// (DefaultMaxAutoExtend, or the value set by SetMaxAutoExtend).
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("value: path %q: %s", e.Path, e.Reason)
}

// Segment is one hop of a parsed path: either a mapping key or a sequence
// index, per the grammar IDENT ( '.' IDENT | '[' INT ']' )*.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// ParsePath lexes a dot/bracket path into its segments.
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, &PathError{Path: path, Reason: "empty path"}
	}
	var segs []Segment
	i := 0
	n := len(path)

	readIdent := func() (string, error) {
		start := i
		for i < n && path[i] != '.' && path[i] != '[' {
			i++
		}
		if i == start {
			return "", &PathError{Path: path, Reason: "expected identifier"}
		}
		return path[start:i], nil
	}

	ident, err := readIdent()
	if err != nil {
		return nil, err
	}
	segs = append(segs, Segment{Key: ident})

	for i < n {
		switch path[i] {
		case '.':
			i++
			ident, err := readIdent()
			if err != nil {
				return nil, err
			}
			segs = append(segs, Segment{Key: ident})
		case '[':
			i++
			start := i
			for i < n && path[i] != ']' {
				i++
			}
			if i >= n {
				return nil, &PathError{Path: path, Reason: "unterminated index"}
			}
			idxStr := path[start:i]
			i++ // skip ']'
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, &PathError{Path: path, Reason: "invalid index " + idxStr}
			}
			segs = append(segs, Segment{Index: idx, IsIndex: true})
		default:
			return nil, &PathError{Path: path, Reason: "unexpected character " + string(path[i])}
		}
	}
	return segs, nil
}

// JoinSegments renders segments back to canonical path form.
func JoinSegments(segs []Segment) string {
	var sb strings.Builder
	for i, s := range segs {
		if s.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteByte(']')
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Key)
	}
	return sb.String()
}
