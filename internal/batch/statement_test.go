package batch

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	type then struct {
		texts       []string
		keywords    []string
		queries     []bool
		commentOnly bool
	}
	var testCases = []struct {
		scenario string
		given    string
		then     then
	}{
		{
			scenario: "three selects",
			given:    "select 1; select 2 union select 3 order by 1; select 4",
			then: then{
				texts:    []string{"select 1", "select 2 union select 3 order by 1", "select 4"},
				keywords: []string{"SELECT", "SELECT", "SELECT"},
				queries:  []bool{true, true, true},
			},
		},
		{
			scenario: "semicolons in literals and comments",
			given:    "insert into t values ('a;b', \"c;d\"); -- x; y\nupdate t set a = 'it''s;'",
			then: then{
				texts:    []string{"insert into t values ('a;b', \"c;d\")", "-- x; y\nupdate t set a = 'it''s;'"},
				keywords: []string{"INSERT", "UPDATE"},
				queries:  []bool{false, false},
			},
		},
		{
			scenario: "block comment before keyword",
			given:    "/* lead; */ (SELECT 1);;",
			then: then{
				texts:    []string{"/* lead; */ (SELECT 1)"},
				keywords: []string{"SELECT"},
				queries:  []bool{true},
			},
		},
		{
			scenario: "returning makes a query",
			given:    "insert into t(a) values (1) returning a; insert into t(a) values ('returning')",
			then: then{
				texts:    []string{"insert into t(a) values (1) returning a", "insert into t(a) values ('returning')"},
				keywords: []string{"INSERT", "INSERT"},
				queries:  []bool{true, false},
			},
		},
		{
			scenario: "ddl and pragma",
			given:    "create table t(a int);\npragma table_info(t)",
			then: then{
				texts:    []string{"create table t(a int)", "pragma table_info(t)"},
				keywords: []string{"CREATE", "PRAGMA"},
				queries:  []bool{false, true},
			},
		},
		{
			scenario: "comment only",
			given:    "/* nothing to execute */",
			then:     then{commentOnly: true},
		},
		{
			scenario: "line comments only",
			given:    "-- a;\n-- b\n;",
			then:     then{commentOnly: true},
		},
		{
			scenario: "blank",
			given:    "  ;\n ; ",
			then:     then{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			stmts, commentOnly := splitStatements(tc.given)
			require.Equal(t, tc.then.commentOnly, commentOnly)
			require.Len(t, stmts, len(tc.then.texts))
			for i, s := range stmts {
				require.Equal(t, tc.then.texts[i], s.text)
				require.Equal(t, tc.then.keywords[i], s.keyword)
				require.Equal(t, tc.then.queries[i], s.query)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for p, name := range policyNames {
		got, err := ParsePolicy(name)
		require.NoError(t, err)
		require.Equal(t, Policy(p), got)
		require.Equal(t, name, got.String())
	}
	got, err := ParsePolicy("MERGEDQUERIES")
	require.NoError(t, err)
	require.Equal(t, PolicyMergedQueries, got)

	got, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicySummary, got)

	_, err = ParsePolicy("bogus")
	require.ErrorContains(t, err, "unknown result policy")
}

func TestAbbrev(t *testing.T) {
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{
			scenario: "short statement",
			given:    "select\n\t1",
			then:     "select 1",
		},
		{
			scenario: "multi-byte text cut on a rune",
			given:    "insert into t values ('" + strings.Repeat("ž", 60) + "')",
			then:     "insert into t values ('" + strings.Repeat("ž", 41) + "...",
		},
		{
			scenario: "ascii cut",
			given:    strings.Repeat("a", 70),
			then:     strings.Repeat("a", 64) + "...",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			got := abbrev(tc.given)
			require.True(t, utf8.ValidString(got))
			require.Equal(t, tc.then, got)
		})
	}
}
