package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jdbcx/jdbcx/internal/pipe"
)

// File is a path used as an input or output endpoint. It is wired to the
// process directly, without copying through the parent.
type File string

// input is the coerced stdin endpoint, at most one of file and reader is set.
type input struct {
	file   *os.File
	owned  bool // file was opened here
	reader io.Reader
	memory bool // reader never blocks
}

func openInput(v any, charset string) (input, error) {
	switch x := v.(type) {
	case nil:
		return input{}, nil
	case File:
		f, err := os.Open(string(x))
		if err != nil {
			return input{}, fmt.Errorf("opening input: %w", err)
		}
		return input{file: f, owned: true}, nil
	case *os.File:
		return input{file: x}, nil
	case []byte:
		return input{reader: bytes.NewReader(x), memory: true}, nil
	case *bytes.Buffer:
		return input{reader: x, memory: true}, nil
	case io.Reader:
		return input{reader: x}, nil
	case string:
		return encodedInput(x, charset)
	default:
		return encodedInput(fmt.Sprint(x), charset)
	}
}

func encodedInput(text, charset string) (input, error) {
	b, err := pipe.Encode(text, charset)
	if err != nil {
		return input{}, fmt.Errorf("encoding input: %w", err)
	}
	return input{reader: bytes.NewReader(b), memory: true}, nil
}

func (in input) close() {
	if in.owned && in.file != nil {
		_ = in.file.Close()
	}
}

// output is the coerced stdout endpoint, at most one of file and writer is
// set. A nil output endpoint captures into buf.
type output struct {
	file   *os.File
	owned  bool
	writer io.Writer
	flush  io.Closer
	buf    *bytes.Buffer
}

func openOutput(v any, charset string) (output, error) {
	switch x := v.(type) {
	case nil:
		buf := &bytes.Buffer{}
		return output{writer: buf, buf: buf}, nil
	case File:
		f, err := os.Create(string(x))
		if err != nil {
			return output{}, fmt.Errorf("creating output: %w", err)
		}
		return output{file: f, owned: true}, nil
	case *os.File:
		return output{file: x}, nil
	case *strings.Builder:
		w, err := pipe.NewDecodingWriter(x, charset)
		if err != nil {
			return output{}, fmt.Errorf("decoding output: %w", err)
		}
		return output{writer: w, flush: w}, nil
	case *[]byte:
		if x == nil {
			return output{}, errors.New("nil *[]byte output")
		}
		return output{writer: (*appendWriter)(x)}, nil
	case io.Writer:
		return output{writer: x}, nil
	default:
		return output{}, fmt.Errorf("unsupported output %T", v)
	}
}

// close flushes the transcoder and closes files opened here.
func (out *output) close() error {
	var errs []error
	if out.flush != nil {
		errs = append(errs, out.flush.Close())
		out.flush = nil
	}
	if out.owned && out.file != nil {
		errs = append(errs, out.file.Close())
		out.owned = false
	}
	return errors.Join(errs...)
}

type appendWriter []byte

func (w *appendWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "none"
	case File:
		return "file:" + string(x)
	case *os.File:
		return "file:" + x.Name()
	case []byte:
		return fmt.Sprintf("bytes(%d)", len(x))
	case *bytes.Buffer:
		return fmt.Sprintf("buffer(%d)", x.Len())
	case io.Reader, io.Writer:
		return fmt.Sprintf("stream(%T)", x)
	case string:
		return fmt.Sprintf("text(%d)", len(x))
	default:
		return fmt.Sprintf("%T", x)
	}
}
