package http

import "errors"

// MaxRanges is the most byte ranges a single request may ask for.
const MaxRanges = 10

var (
	ErrMalformedRange      = errors.New("http: malformed Range header")
	ErrTooManyRanges       = errors.New("http: too many byte ranges")
	ErrRangeNotSatisfiable = errors.New("http: range not satisfiable")
)

// Range is one element of a "bytes=" list. Suffix ranges count Length bytes
// back from the end of the file; a Length of -1 means "to the end".
type Range struct {
	Start  int64
	Length int64
	Suffix bool
}

// Span is a range resolved against a file size.
type Span struct {
	Start  int64
	Length int64
}

// End is the offset of the last byte of the span.
func (s Span) End() int64 {
	return s.Start + s.Length - 1
}

// ParseRanges parses the value of a Range header after "bytes=".
func ParseRanges(s string) ([]Range, error) {
	var ranges []Range
	i := 0
	for {
		i = skipSpaces(s, i)
		if i >= len(s) {
			break
		}

		var rg Range
		switch {
		case isDigit(s[i]):
			var ok bool
			rg.Start, i, ok = parseDigits(s, i)
			if !ok || i >= len(s) || s[i] != '-' {
				return nil, ErrMalformedRange
			}
			i++
			if i >= len(s) || s[i] == ',' || s[i] == ' ' {
				rg.Length = -1
				break
			}
			if !isDigit(s[i]) {
				return nil, ErrMalformedRange
			}
			var end int64
			end, i, ok = parseDigits(s, i)
			if !ok || end < rg.Start {
				return nil, ErrMalformedRange
			}
			rg.Length = end - rg.Start + 1
		case s[i] == '-':
			i++
			if i >= len(s) || !isDigit(s[i]) {
				return nil, ErrMalformedRange
			}
			var ok bool
			rg.Length, i, ok = parseDigits(s, i)
			if !ok || rg.Length == 0 {
				return nil, ErrMalformedRange
			}
			rg.Suffix = true
		default:
			return nil, ErrMalformedRange
		}

		ranges = append(ranges, rg)
		if len(ranges) > MaxRanges {
			return nil, ErrTooManyRanges
		}

		i = skipSpaces(s, i)
		if i >= len(s) {
			break
		}
		if s[i] != ',' {
			return nil, ErrMalformedRange
		}
		i++
	}
	if len(ranges) == 0 {
		return nil, ErrMalformedRange
	}
	return ranges, nil
}

// ResolveRanges checks ranges against a file of size bytes. When the ranges
// together ask for more than the file holds, a single span covering the
// whole file is returned and whole is true.
func ResolveRanges(ranges []Range, size int64) (spans []Span, whole bool, err error) {
	var total int64
	spans = make([]Span, 0, len(ranges))
	for _, rg := range ranges {
		if rg.Length == 0 || rg.Length > size {
			return nil, false, ErrRangeNotSatisfiable
		}
		sp := Span{Start: rg.Start, Length: rg.Length}
		switch {
		case rg.Suffix:
			sp.Start = size - rg.Length
		case rg.Start < 0 || rg.Start >= size:
			return nil, false, ErrRangeNotSatisfiable
		case rg.Length < 0:
			sp.Length = size - rg.Start
		case rg.Start+rg.Length > size:
			return nil, false, ErrRangeNotSatisfiable
		}
		total += sp.Length
		spans = append(spans, sp)
	}

	if total > size {
		return []Span{{Start: 0, Length: size}}, true, nil
	}
	return spans, false, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func skipSpaces(s string, i int) int {
	for i < len(s) && s[i] == ' ' {
		i++
	}
	return i
}

func parseDigits(s string, i int) (int64, int, bool) {
	var n int64
	for i < len(s) && isDigit(s[i]) {
		d := int64(s[i] - '0')
		if n > (1<<63-1-d)/10 {
			return 0, i, false
		}
		n = n*10 + d
		i++
	}
	return n, i, true
}
