package httpclient

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultCharset is used for request bodies, query strings and response
// decoding whenever no other charset applies.
const DefaultCharset = "utf-8"

// charset is a resolved character encoding. Names follow the WHATWG
// encoding labels, so "utf8", "UTF-8" and "unicode-1-1-utf-8" all resolve
// to "utf-8".
type charset struct {
	name string
	enc  encoding.Encoding
}

var utf8Charset = mustCharset(DefaultCharset)

func mustCharset(name string) charset {
	c, err := lookupCharset(name)
	if err != nil {
		panic(err)
	}
	return c
}

// lookupCharset resolves a charset label.
func lookupCharset(name string) (charset, error) {
	label := strings.TrimSpace(name)
	enc, err := htmlindex.Get(label)
	if err != nil {
		return charset{}, fmt.Errorf("%w: %q", ErrUnsupportedCharset, name)
	}

	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(label)
	}
	return charset{name: canonical, enc: enc}, nil
}

func (c charset) isUTF8() bool { return c.name == DefaultCharset }

// encodeString converts s from UTF-8 into the charset.
func (c charset) encodeString(s string) (string, error) {
	if c.isUTF8() {
		return s, nil
	}
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}

// reader returns r decoded from the charset into UTF-8.
func (c charset) reader(r io.Reader) io.Reader {
	if c.isUTF8() {
		return r
	}
	return transform.NewReader(r, c.enc.NewDecoder())
}

// charsetFromContentType extracts the charset parameter of a Content-Type
// value. The key is matched case-insensitively, the value is trimmed and
// unquoted. It returns "" when there is no charset parameter.
func charsetFromContentType(contentType string) string {
	segments := strings.Split(contentType, ";")
	for _, segment := range segments[1:] {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "charset") {
			return strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	return ""
}
