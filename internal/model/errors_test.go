package model_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/stretchr/testify/require"
)

func TestExecError(t *testing.T) {
	t.Parallel()
	type then struct {
		kind     model.Kind
		sentinel error
		msg      string
	}
	var testCases = []struct {
		scenario string
		given    error
		then     then
	}{
		{
			scenario: "timeout",
			given:    model.Timeout("exec ls", 1500*time.Millisecond, time.Second),
			then:     then{model.KindTimeout, model.ErrTimeout, "exec ls: timed out after 1.5s (budget 1s)"},
		},
		{
			scenario: "process failure with stderr",
			given:    model.ProcessFailure("exec ls", 2, "ls: cannot access '|'\n"),
			then:     then{model.KindProcessFailure, model.ErrProcessFailed, "exec ls: exit code 2: ls: cannot access '|'"},
		},
		{
			scenario: "process failure without stderr",
			given:    model.ProcessFailure("exec false", 1, ""),
			then:     then{model.KindProcessFailure, model.ErrProcessFailed, "exec false: exit code 1"},
		},
		{
			scenario: "interrupted",
			given:    model.Interrupted("await", context.Canceled),
			then:     then{model.KindInterrupted, model.ErrInterrupted, "await: interrupted: context canceled"},
		},
		{
			scenario: "unavailable",
			given:    model.Unavailable("resolve foo", nil),
			then:     then{model.KindUnavailable, model.ErrUnavailable, "resolve foo: command unavailable"},
		},
		{
			scenario: "wrapped cancelled",
			given:    fmt.Errorf("pump: %w", model.Cancelled("copy", io.ErrClosedPipe)),
			then:     then{model.KindCancelled, model.ErrCancelled, "pump: copy: cancelled: io: read/write on closed pipe"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			require.Equal(t, tc.then.kind, model.KindOf(tc.given))
			require.ErrorIs(t, tc.given, tc.then.sentinel)
			require.EqualError(t, tc.given, tc.then.msg)
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	require.Equal(t, model.KindUnknown, model.KindOf(nil))
	require.Equal(t, model.KindUnknown, model.KindOf(errors.New("boom")))
	require.Equal(t, model.KindInterrupted, model.KindOf(fmt.Errorf("x: %w", context.Canceled)))

	err := model.Cancelled("copy", io.ErrClosedPipe)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.NotErrorIs(t, err, model.ErrTimeout)
}
