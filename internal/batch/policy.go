package batch

import (
	"fmt"
	"strings"

	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/result"
)

// Policy reduces the results of the statements of one group into one.
type Policy uint8

const (
	PolicyFirst Policy = iota
	PolicyFirstQuery
	PolicyFirstUpdate
	PolicyLast
	PolicyLastQuery
	PolicyLastUpdate
	PolicyMergedQueries
	PolicyMergedUpdates
	PolicySummary
)

var policyNames = [...]string{
	PolicyFirst:         "first",
	PolicyFirstQuery:    "firstQuery",
	PolicyFirstUpdate:   "firstUpdate",
	PolicyLast:          "last",
	PolicyLastQuery:     "lastQuery",
	PolicyLastUpdate:    "lastUpdate",
	PolicyMergedQueries: "mergedQueries",
	PolicyMergedUpdates: "mergedUpdates",
	PolicySummary:       "summary",
}

// ParsePolicy accepts the policy names case insensitively. An empty name is
// PolicySummary.
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PolicySummary, nil
	}
	for p, name := range policyNames {
		if strings.EqualFold(s, name) {
			return Policy(p), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", model.ErrUnknownPolicy, s)
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// outcome is the result of one statement, either rows or an update count.
type outcome struct {
	rows  *result.Result
	count int64
}

func (o outcome) isQuery() bool {
	return o.rows != nil
}

func (o outcome) result() result.Result {
	if o.rows != nil {
		return *o.rows
	}
	return result.UpdateCount(o.count)
}

func (o outcome) kind() string {
	if o.isQuery() {
		return "query"
	}
	return "update"
}

func (o outcome) rowCount() int64 {
	if o.isQuery() {
		return int64(o.rows.Len())
	}
	return o.count
}

var summaryFields = []result.Field{
	{Name: "sequence", Type: result.TypeInt},
	{Name: "type", Type: result.TypeString},
	{Name: "rows", Type: result.TypeInt},
}

func reduce(p Policy, outcomes []outcome) (result.Result, error) {
	switch p {
	case PolicyFirst:
		if len(outcomes) == 0 {
			return result.Result{}, nil
		}
		return outcomes[0].result(), nil
	case PolicyFirstQuery:
		for _, o := range outcomes {
			if o.isQuery() {
				return *o.rows, nil
			}
		}
		return result.Result{}, nil
	case PolicyLast:
		if len(outcomes) == 0 {
			return result.Result{}, nil
		}
		return outcomes[len(outcomes)-1].result(), nil
	case PolicyLastQuery:
		for i := len(outcomes) - 1; i >= 0; i-- {
			if outcomes[i].isQuery() {
				return *outcomes[i].rows, nil
			}
		}
		return result.Result{}, nil
	case PolicyFirstUpdate, PolicyLastUpdate:
		// firstUpdate drains every result set before reading the count
		for i := len(outcomes) - 1; i >= 0; i-- {
			if !outcomes[i].isQuery() {
				return result.UpdateCount(outcomes[i].count), nil
			}
		}
		return result.UpdateCount(0), nil
	case PolicyMergedQueries:
		var sets []result.Result
		for _, o := range outcomes {
			if o.isQuery() {
				sets = append(sets, *o.rows)
			}
		}
		return result.Merge(sets...)
	case PolicyMergedUpdates:
		var sum int64
		for _, o := range outcomes {
			if !o.isQuery() {
				sum += o.count
			}
		}
		return result.UpdateCount(sum), nil
	case PolicySummary:
		r := result.New(summaryFields...)
		for i, o := range outcomes {
			r.Append(int64(i+1), o.kind(), o.rowCount())
		}
		return r, nil
	default:
		return result.Result{}, fmt.Errorf("%w: %s", model.ErrUnknownPolicy, p)
	}
}
