package pipe

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Lookup returns the encoding registered for name. An empty name is UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err == nil && enc != nil {
		return enc, nil
	}
	enc, herr := htmlindex.Get(name)
	if herr != nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

func isUTF8(enc encoding.Encoding) bool {
	return enc == unicode.UTF8
}

// Encode converts text to bytes in charset.
func Encode(text, charset string) ([]byte, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if isUTF8(enc) {
		return []byte(text), nil
	}
	b, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encoding to %s: %w", charset, err)
	}
	return b, nil
}

// Decode converts b in charset to a UTF-8 string.
func Decode(b []byte, charset string) (string, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return "", err
	}
	if isUTF8(enc) {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decoding from %s: %w", charset, err)
	}
	return string(out), nil
}

// NewDecodingWriter returns a writer which transcodes bytes in charset to
// UTF-8 before writing them to w. It must be closed to flush the tail.
func NewDecodingWriter(w io.Writer, charset string) (io.WriteCloser, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if isUTF8(enc) {
		return nopCloser{w}, nil
	}
	return transform.NewWriter(w, enc.NewDecoder()), nil
}

// NewEncodingReader returns a reader producing the UTF-8 text of r encoded
// in charset.
func NewEncodingReader(r io.Reader, charset string) (io.Reader, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if isUTF8(enc) {
		return r, nil
	}
	return transform.NewReader(r, enc.NewEncoder()), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
