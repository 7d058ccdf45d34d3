package logpack

import "unicode/utf8"

// isLineTerminator reports whether r ends a line: LF, CR, VT, FF, FS, GS,
// RS, NEL, LS or PS.
func isLineTerminator(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// SplitLines splits s into pieces that each end with a line terminator,
// except possibly the last. CR LF counts as one terminator.
func SplitLines(s string) []string {
	var pieces []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if !isLineTerminator(r) {
			continue
		}
		if r == '\r' && i < len(s) && s[i] == '\n' {
			i++
		}
		pieces = append(pieces, s[start:i])
		start = i
	}
	if start < len(s) {
		pieces = append(pieces, s[start:])
	}
	return pieces
}

// EndsLine reports whether s ends with a line terminator.
func EndsLine(s string) bool {
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return isLineTerminator(r)
}

// Lines numbers pieces of one stream the way the output collector does.
type Lines struct {
	line, number int
}

func NewLines() *Lines {
	return &Lines{line: 1, number: 1}
}

// Next returns the coordinates of text and advances past it.
func (l *Lines) Next(text string) (line, number int) {
	line, number = l.line, l.number
	if EndsLine(text) {
		l.line++
		l.number = 1
	} else {
		l.number++
	}
	return line, number
}
