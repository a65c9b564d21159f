// Package result holds the tabular output of process and query execution.
package result

import (
	"fmt"
	"iter"
)

// Field types used by the executors.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeAny    = "any"
)

type Field struct {
	Name string
	Type string
}

type Row []any

// Result is an ordered list of fields and the rows holding their values.
type Result struct {
	Fields []Field
	Rows   []Row
}

func New(fields ...Field) Result {
	return Result{Fields: fields}
}

// Append adds a row, it panics when the number of values does not match the
// fields.
func (r *Result) Append(values ...any) {
	if len(values) != len(r.Fields) {
		panic(fmt.Sprintf("result: row has %d values, expected %d", len(values), len(r.Fields)))
	}
	r.Rows = append(r.Rows, Row(values))
}

func (r Result) Len() int {
	return len(r.Rows)
}

// All iterates over rows with their zero based index.
func (r Result) All() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i, row := range r.Rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Column returns the values of the named field.
func (r Result) Column(name string) ([]any, bool) {
	idx := -1
	for i, f := range r.Fields {
		if f.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	ret := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		ret = append(ret, row[idx])
	}
	return ret, true
}

// UpdateCount wraps a single update count.
func UpdateCount(n int64) Result {
	r := New(Field{Name: "updates", Type: TypeInt})
	r.Append(n)
	return r
}

// Merge concatenates the rows of results sharing the same width. The fields
// of the first result are kept.
func Merge(results ...Result) (Result, error) {
	if len(results) == 0 {
		return Result{}, nil
	}
	ret := Result{Fields: results[0].Fields}
	for i, r := range results {
		if len(r.Fields) != len(ret.Fields) {
			return Result{}, fmt.Errorf("merging result %d: got %d fields, expected %d", i, len(r.Fields), len(ret.Fields))
		}
		ret.Rows = append(ret.Rows, r.Rows...)
	}
	return ret, nil
}
