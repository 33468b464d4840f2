package http

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
)

const defaultUploadMIME = "application/octet-stream"

// ParseForms decodes the query string and the POST body into Get, Post and
// Files. It returns the status the request should continue with: 200, 400
// for a broken body, or 413 when an upload exceeds maxUpload.
func (r *Request) ParseForms(maxUpload int64) int {
	if r.RawQuery != "" {
		// Malformed pairs are dropped; the well-formed ones are kept.
		r.Get, _ = url.ParseQuery(r.RawQuery)
	}

	if r.Method == MethodPost && r.ContentLength > 0 {
		switch r.PostEncoding {
		case PostURLEncoded:
			r.Post, _ = url.ParseQuery(string(r.Body()))
		case PostMultipart:
			if code := r.parseMultipart(maxUpload); code != StatusOK {
				return code
			}
		}
	}

	switch r.Value("ajax", "gp") {
	case "1", "true", "on":
		r.AJAX = true
	}
	return StatusOK
}

func (r *Request) parseMultipart(maxUpload int64) int {
	mr := multipart.NewReader(bytes.NewReader(r.Body()), r.Boundary)

	for {
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return StatusOK
		}
		if err != nil {
			return StatusBadRequest
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		filename := part.FileName()

		var src io.Reader = part
		if filename != "" {
			src = io.LimitReader(part, maxUpload+1)
		}
		content, err := io.ReadAll(src)
		part.Close()
		if err != nil {
			return StatusBadRequest
		}

		if filename == "" {
			if r.Post == nil {
				r.Post = make(url.Values)
			}
			r.Post.Set(name, string(content))
			continue
		}
		if int64(len(content)) > maxUpload {
			return StatusEntityTooLarge
		}
		if len(content) == 0 {
			continue
		}

		mimeType := part.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = defaultUploadMIME
		}
		if r.Files == nil {
			r.Files = make(map[string]*File, 2)
		}
		r.Files[name] = &File{
			Filename: filename,
			MIME:     mimeType,
			Content:  content,
		}
	}
}
