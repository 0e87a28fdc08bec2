package stream

import (
	"fmt"
	"regexp"
	"strings"
)

// A Pattern locates its earliest occurrence in buffered output. Build one
// with Text or Regexp.
type Pattern struct {
	lit string
	re  *regexp.Regexp
}

// Text matches the literal substring s.
func Text(s string) Pattern {
	return Pattern{lit: s}
}

// Regexp matches the regular expression expr. The pattern is compiled once;
// an invalid pattern causes a panic.
func Regexp(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

// FromRegexp wraps an already-compiled expression. Callers with user-supplied
// patterns compile first so an invalid pattern is an error, not a panic.
func FromRegexp(re *regexp.Regexp) Pattern {
	return Pattern{re: re}
}

// find returns the earliest occurrence of p in s.
func (p Pattern) find(s string) (start, end int, ok bool) {
	if p.re != nil {
		loc := p.re.FindStringIndex(s)
		if loc == nil {
			return 0, 0, false
		}
		return loc[0], loc[1], true
	}
	i := strings.Index(s, p.lit)
	if i < 0 {
		return 0, 0, false
	}
	return i, i + len(p.lit), true
}

func (p Pattern) String() string {
	if p.re != nil {
		return fmt.Sprintf("/%s/", p.re.String())
	}
	return fmt.Sprintf("%q", p.lit)
}
