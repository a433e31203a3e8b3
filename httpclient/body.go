package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// bodyKind tags the variant held by a request body.
type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyBytes
	bodyString
	bodyStream
	bodyForm
	bodyMultipart
	bodyJSON
)

func (k bodyKind) String() string {
	switch k {
	case bodyBytes:
		return "bytes"
	case bodyString:
		return "string"
	case bodyStream:
		return "stream"
	case bodyForm:
		return "form"
	case bodyMultipart:
		return "multipart"
	case bodyJSON:
		return "json"
	default:
		return "none"
	}
}

// pendingBody is the body as the builder received it, before charset and
// codec are applied.
type pendingBody struct {
	kind        bodyKind
	data        []byte
	text        string
	stream      io.Reader
	form        []Param
	value       any
	multipart   multipartBody
	contentType string
}

// body is the encoded payload of a built Request.
type body struct {
	kind        bodyKind
	data        []byte
	stream      io.Reader
	multipart   multipartBody
	contentType string
}

// build encodes the pending body with the request charset and codec.
func (p pendingBody) build(cs charset, codec Codec) (body, error) {
	b := body{kind: p.kind, contentType: p.contentType}

	switch p.kind {
	case bodyNone:
		return body{}, nil

	case bodyBytes:
		b.data = append([]byte(nil), p.data...)
		if b.contentType == "" {
			b.contentType = "application/octet-stream"
		}

	case bodyString:
		encoded, err := cs.encodeString(p.text)
		if err != nil {
			return body{}, err
		}
		b.data = []byte(encoded)
		if b.contentType == "" {
			b.contentType = "text/plain; charset=" + cs.name
		}

	case bodyStream:
		b.stream = p.stream
		if b.contentType == "" {
			b.contentType = "application/octet-stream"
		}

	case bodyForm:
		encoded, err := encodeParams(p.form, cs)
		if err != nil {
			return body{}, err
		}
		b.data = []byte(encoded)
		if b.contentType == "" {
			b.contentType = "application/x-www-form-urlencoded; charset=" + cs.name
		}

	case bodyJSON:
		data, err := codec.Marshal(p.value)
		if err != nil {
			return body{}, fmt.Errorf("marshal json: %w", err)
		}
		encoded, err := cs.encodeString(string(data))
		if err != nil {
			return body{}, err
		}
		b.data = []byte(encoded)
		if b.contentType == "" {
			b.contentType = "application/json; charset=" + cs.name
		}

	case bodyMultipart:
		b.multipart = p.multipart.clone()
	}

	return b, nil
}

// open returns a reader over the payload, its content type and its length
// (-1 when unknown).
func (b body) open() (io.Reader, string, int64, error) {
	switch b.kind {
	case bodyNone:
		return nil, "", 0, nil
	case bodyStream:
		return b.stream, b.contentType, -1, nil
	case bodyMultipart:
		buf, contentType, err := b.multipart.encode()
		if err != nil {
			return nil, "", 0, err
		}
		return buf, contentType, int64(buf.Len()), nil
	default:
		return bytes.NewReader(b.data), b.contentType, int64(len(b.data)), nil
	}
}

// replayable reports whether open can be called again with the same
// result. Streams and multipart readers are consumed by the first send.
func (b body) replayable() bool {
	switch b.kind {
	case bodyStream:
		return false
	case bodyMultipart:
		for _, f := range b.multipart.files {
			if f.Reader != nil {
				return false
			}
		}
	}
	return true
}

// snapshot returns the payload bytes when they are known up front. It is used
// for cURL rendering only.
func (b body) snapshot() []byte {
	switch b.kind {
	case bodyBytes, bodyString, bodyForm, bodyJSON:
		return b.data
	default:
		return nil
	}
}

// encodeParams renders params as an application/x-www-form-urlencoded string
// after converting names and values into cs.
func encodeParams(ps []Param, cs charset) (string, error) {
	var sb strings.Builder
	for i, p := range ps {
		name, err := cs.encodeString(p.Name)
		if err != nil {
			return "", err
		}
		value, err := cs.encodeString(p.Value)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(value))
	}
	return sb.String(), nil
}
