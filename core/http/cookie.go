package http

import (
	"net/url"
	"strings"
	"time"
)

// Cookie is a Set-Cookie entry of a response.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
}

// parseCookies reads a Cookie header into m. Values are URL-decoded; the
// raw value is kept when decoding fails.
func parseCookies(m map[string]string, header string) map[string]string {
	if m == nil {
		m = make(map[string]string, 4)
	}
	s := header
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		name := s[:eq]
		s = s[eq+1:]

		end := strings.IndexByte(s, ';')
		value := s
		if end >= 0 {
			value = s[:end]
		}
		if name != "" {
			if v, err := url.QueryUnescape(value); err == nil {
				value = v
			}
			m[name] = value
		}
		if end < 0 {
			break
		}
		s = s[end+1:]
	}
	return m
}

func appendSetCookie(b []byte, c *Cookie) []byte {
	b = append(b, "Set-Cookie: "...)
	b = append(b, c.Name...)
	b = append(b, '=')
	b = append(b, url.QueryEscape(c.Value)...)
	if !c.Expires.IsZero() {
		b = append(b, "; Expires="...)
		b = c.Expires.UTC().AppendFormat(b, TimeFormat)
	}
	if c.Path != "" {
		b = append(b, "; Path="...)
		b = append(b, c.Path...)
	}
	if c.Domain != "" {
		b = append(b, "; Domain="...)
		b = append(b, c.Domain...)
	}
	if c.Secure {
		b = append(b, "; Secure"...)
	}
	if c.HTTPOnly {
		b = append(b, "; HttpOnly"...)
	}
	return append(b, "\r\n"...)
}
