package http

// Status codes the server produces on its own.
const (
	StatusOK                  = 200
	StatusPartialContent      = 206
	StatusMovedPermanently    = 301
	StatusFound               = 302
	StatusNotModified         = 304
	StatusBadRequest          = 400
	StatusNotFound            = 404
	StatusRequestTimeout      = 408
	StatusLengthRequired      = 411
	StatusEntityTooLarge      = 413
	StatusURITooLong          = 414
	StatusRangeNotSatisfiable = 416
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusServiceUnavailable  = 503
	StatusVersionNotSupported = 505
)

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Moved Temporarily",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Request Entity Too Large",
	414: "Request-URI Too Long",
	415: "Unsupported Media Type",
	416: "Requested Range Not Satisfiable",
	417: "Expectation Failed",
	429: "Too Many Requests",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// StatusText returns the reason phrase for code.
func StatusText(code int) string {
	if s, ok := statusText[code]; ok {
		return s
	}
	return "Undefined HTTP error"
}

// appendStatusCode writes code as three digits; unknown codes render as 000.
func appendStatusCode(b []byte, code int) []byte {
	if _, ok := statusText[code]; !ok || code < 100 || code > 999 {
		return append(b, "000"...)
	}
	return append(b, byte('0'+code/100), byte('0'+code/10%10), byte('0'+code%10))
}

// appendInt appends an integer to a byte slice
func appendInt(b []byte, i int64) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	digits := 0
	for tmp := i; tmp > 0; tmp /= 10 {
		digits++
	}

	start := len(b)
	for j := 0; j < digits; j++ {
		b = append(b, '0')
	}
	for j := digits - 1; j >= 0; j-- {
		b[start+j] = byte('0' + i%10)
		i /= 10
	}

	return b
}
