package result

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

const nullValue = "NULL"

type Format string

const (
	FormatTable    Format = "table"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatCSV, FormatMarkdown:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Render writes r to w in the given format.
func Render(w io.Writer, r Result, format Format) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(r.Fields))
	for i, f := range r.Fields {
		header[i] = f.Name
	}
	t.AppendHeader(header)

	for _, row := range r.Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			// go-pretty doesn't expect nil values
			if v == nil {
				v = nullValue
			}
			out[i] = v
		}
		t.AppendRow(out)
	}

	switch format {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	case FormatTable, "":
		t.Render()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}
