package datalog

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleFact(t *testing.T) {
	r, err := ParseRule(`t_accounts__id(0, 3).`)
	require.NoError(t, err)
	assert.Equal(t, "t_accounts__id", r.Head.Relation)
	assert.Empty(t, r.Body)
	require.Len(t, r.Head.Args, 2)
	assert.False(t, r.Head.Args[0].IsVar)
	assert.Equal(t, "0", r.Head.Args[0].Value)
}

func TestParseRuleWithBody(t *testing.T) {
	r, err := ParseRule(`output(Idx) :- t_accounts__balance("negative", Idx), t_accounts__id(Name, Idx).`)
	require.NoError(t, err)
	assert.Equal(t, "output", r.Head.Relation)
	require.Len(t, r.Body, 2)
	assert.Equal(t, "t_accounts__balance", r.Body[0].Relation)
}

func TestParseRuleRejectsBadSyntax(t *testing.T) {
	_, err := ParseRule("not an atom at all")
	require.Error(t, err)
}

func TestEvaluateJoinsAcrossRelations(t *testing.T) {
	facts := []Fact{
		{Relation: "t_accounts__id", Args: []string{"a1", "0"}},
		{Relation: "t_accounts__id", Args: []string{"a2", "1"}},
		{Relation: "t_accounts__balance", Args: []string{"-5", "0"}},
		{Relation: "t_accounts__balance", Args: []string{"10", "1"}},
	}

	rule, err := ParseRule(`output(Idx) :- t_accounts__balance("-5", Idx), t_accounts__id(Name, Idx).`)
	require.NoError(t, err)

	results := Evaluate([]Rule{rule}, facts)

	var offenders []string
	for _, f := range results {
		if f.Relation == "output" {
			offenders = append(offenders, f.Args[0])
		}
	}
	sort.Strings(offenders)
	assert.Equal(t, []string{"0"}, offenders)
}

func TestEvaluateIsEmptyWhenNoMatch(t *testing.T) {
	facts := []Fact{{Relation: "t_accounts__id", Args: []string{"a1", "0"}}}
	rule, err := ParseRule(`output(Idx) :- t_accounts__id("ghost", Idx).`)
	require.NoError(t, err)

	results := Evaluate([]Rule{rule}, facts)
	for _, f := range results {
		assert.NotEqual(t, "output", f.Relation)
	}
}
