//go:build linux

package static

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/pools"
)

// Respond fills resp with f, honouring ranges. The response takes ownership
// of the file; it is closed here when Respond fails. The returned error is
// http.ErrRangeNotSatisfiable when the ranges do not fit the file.
func Respond(resp *http.Response, f *File, ranges []http.Range) error {
	var (
		spans []http.Span
		whole = len(ranges) == 0
		err   error
	)
	if !whole {
		spans, whole, err = http.ResolveRanges(ranges, f.Size)
		if err != nil {
			f.Close()
			return err
		}
	}

	size := strconv.FormatInt(f.Size, 10)
	switch {
	case whole:
		resp.Status = http.StatusOK
		resp.SetHeader("Content-Type", f.MIME)
		resp.SetHeader("ETag", f.ETag)
		if f.Size == 0 {
			f.Close()
			break
		}
		err = resp.Body.AddFile(f.F, 0, f.Size, true)

	case len(spans) == 1:
		sp := spans[0]
		resp.Status = http.StatusPartialContent
		resp.SetHeader("Content-Type", f.MIME)
		resp.SetHeader("Content-Range", "bytes "+strconv.FormatInt(sp.Start, 10)+"-"+strconv.FormatInt(sp.End(), 10)+"/"+size)
		err = resp.Body.AddFile(f.F, sp.Start, sp.Length, true)

	default:
		boundary := uuid.NewString()
		resp.Status = http.StatusPartialContent
		resp.SetHeader("Content-Type", "multipart/byteranges; boundary="+boundary)
		for i, sp := range spans {
			part := pools.GetBytes(192)
			part = append(part, "\r\n--"...)
			part = append(part, boundary...)
			part = append(part, "\r\nContent-Type: "...)
			part = append(part, f.MIME...)
			part = append(part, "\r\nContent-Range: bytes "...)
			part = strconv.AppendInt(part, sp.Start, 10)
			part = append(part, '-')
			part = strconv.AppendInt(part, sp.End(), 10)
			part = append(part, '/')
			part = append(part, size...)
			part = append(part, "\r\n\r\n"...)
			resp.Body.AddHeap(part)

			// The last window owns the descriptor so it is closed exactly once.
			if err = resp.Body.AddFile(f.F, sp.Start, sp.Length, i == len(spans)-1); err != nil {
				break
			}
		}
		if err == nil {
			trailer := pools.GetBytes(64)
			trailer = append(trailer, "\r\n--"...)
			trailer = append(trailer, boundary...)
			trailer = append(trailer, "--\r\n"...)
			resp.Body.AddHeap(trailer)
		}
	}
	if err != nil {
		resp.Body.Free()
		f.Close()
		return err
	}

	resp.SetHeader("Content-Length", strconv.FormatInt(resp.Body.Len(), 10))
	resp.SetHeader("Accept-Ranges", "bytes")
	resp.SetHeader("Last-Modified", f.ModTime.UTC().Format(http.TimeFormat))
	return nil
}
