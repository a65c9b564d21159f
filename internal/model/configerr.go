package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// Codes of a ConfigError.
const (
	CodeUnknownField = "unknown_field"
	CodeInvalidEnum  = "invalid_enum"
	CodeTypeMismatch = "type_mismatch"
	CodeMissing      = "missing_required"
	CodeInvalidValue = "invalid_value"
)

// ConfigError is one schema violation of a configuration file.
type ConfigError struct {
	Path    string // query.policy
	Code    string
	Message string
	File    string
	Line    int
	Column  int
}

func (c ConfigError) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("file", c.File),
		slog.Int("line", c.Line),
		slog.Int("column", c.Column),
	)
}

// rules are tried in order against every message reported for a path
var rules = []struct {
	code string
	re   *regexp.Regexp
}{
	{CodeUnknownField, regexp.MustCompile(`field not allowed`)},
	{CodeTypeMismatch, regexp.MustCompile(`mismatched types`)},
	{CodeMissing, regexp.MustCompile(`incomplete value|field is required`)},
}

// enums lists the schema paths restricted to a set of strings.
func enums() map[string]cue.Value {
	return map[string]cue.Value{"query.policy": policySchema}
}

// CueErrDetails turns an error returned by LoadConfig into one ConfigError
// per offending path, in the order CUE reports them.
func CueErrDetails(err error) []ConfigError {
	if err == nil {
		return nil
	}

	var (
		order []string
		msgs  = make(map[string][]string)
		first = make(map[string]cueerrors.Error)
	)
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(trimDefinition(e.Path()), ".")
		format, args := e.Msg()
		if _, ok := first[path]; !ok {
			order = append(order, path)
			first[path] = e
		}
		msgs[path] = append(msgs[path], fmt.Sprintf(format, args...))
	}

	out := make([]ConfigError, 0, len(order))
	for _, path := range order {
		ce := ConfigError{Path: path, Code: classify(path, msgs[path])}
		ce.Message = describe(ce.Code, path, msgs[path][0])
		for _, p := range cueerrors.Positions(first[path]) {
			if p.Filename() != "" {
				ce.File, ce.Line, ce.Column = p.Filename(), p.Line(), p.Column()
				break
			}
		}
		out = append(out, ce)
	}
	return out
}

func classify(path string, msgs []string) string {
	for _, r := range rules {
		for _, m := range msgs {
			if r.re.MatchString(m) {
				return r.code
			}
		}
	}
	if _, ok := enums()[path]; ok {
		return CodeInvalidEnum
	}
	return CodeInvalidValue
}

func describe(code, path, raw string) string {
	name := path[strings.LastIndexByte(path, '.')+1:]
	switch code {
	case CodeUnknownField:
		return fmt.Sprintf("field %s is not allowed", name)
	case CodeTypeMismatch:
		return fmt.Sprintf("field %s has a wrong type", name)
	case CodeMissing:
		return fmt.Sprintf("field %s is required", name)
	case CodeInvalidEnum:
		return fmt.Sprintf("field %s has invalid value: possible values (%s)",
			name, strings.Join(enumValues(enums()[path]), ","))
	default:
		return fmt.Sprintf("field %s: %s", name, raw)
	}
}

func enumValues(v cue.Value) []string {
	op, args := v.Expr()
	if op != cue.OrOp {
		args = []cue.Value{v}
	}
	var values []string
	for _, a := range args {
		if s, err := a.String(); err == nil {
			values = append(values, s)
		}
	}
	return values
}

func trimDefinition(p []string) []string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		return p[1:]
	}
	return p
}
