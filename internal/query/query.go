// Package query splits query documents into groups and loads them from
// literal text, a file or a glob of files.
package query

import (
	"bufio"
	"strings"
)

// Marker starts a new group, the rest of the line is its description.
const Marker = "--;;"

// Group is one marker delimited part of a document. Index 0 holds the text
// before the first marker.
type Group struct {
	Index       int
	Description string
	Query       string
}

// Blank reports whether the group has nothing but whitespace.
func (g Group) Blank() bool {
	return strings.TrimSpace(g.Query) == ""
}

// Task is a document from one source, its groups run in order on one
// connection.
type Task struct {
	Source string
	Groups []Group
}

// Split splits text into groups. Text before the first marker becomes group
// 0 unless it is blank, marker groups are kept even when empty.
func Split(source, text string) Task {
	task := Task{Source: source}

	var (
		current = Group{Index: 0}
		sb      strings.Builder
		marked  bool
	)
	flush := func() {
		current.Query = strings.TrimSpace(sb.String())
		if marked || current.Query != "" {
			task.Groups = append(task.Groups, current)
		}
		sb.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), len(text)+1)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), Marker); ok {
			flush()
			current = Group{
				Index:       current.Index + 1,
				Description: strings.TrimSpace(rest),
			}
			marked = true
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	flush()
	return task
}
