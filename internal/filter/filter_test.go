package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyPolicyMatchesEverything(t *testing.T) {
	m, err := Compile("")
	require.NoError(t, err)
	require.True(t, m.Match(map[string]Attribute{"anything": {DataType: "String", Value: "x"}}))
}

func TestLiteralStringMatch(t *testing.T) {
	m, err := Compile(`{"eventType":["created","updated"]}`)
	require.NoError(t, err)

	require.True(t, m.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "created"}}))
	require.False(t, m.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "deleted"}}))
	require.False(t, m.Match(map[string]Attribute{}))
}

func TestExistsOperator(t *testing.T) {
	present, err := Compile(`{"eventType":[{"exists":true}]}`)
	require.NoError(t, err)
	require.True(t, present.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "created"}}))
	require.False(t, present.Match(map[string]Attribute{}))

	absent, err := Compile(`{"eventType":[{"exists":false}]}`)
	require.NoError(t, err)
	require.True(t, absent.Match(map[string]Attribute{}))
	require.False(t, absent.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "created"}}))
}

func TestAnythingButOperator(t *testing.T) {
	m, err := Compile(`{"eventType":[{"anything-but":"deleted"}]}`)
	require.NoError(t, err)
	require.True(t, m.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "created"}}))
	require.False(t, m.Match(map[string]Attribute{"eventType": {DataType: "String", Value: "deleted"}}))
	require.False(t, m.Match(map[string]Attribute{}))
}

func TestNumericRangeOperator(t *testing.T) {
	m, err := Compile(`{"price":[{"numeric":[">=", 10, "<", 20]}]}`)
	require.NoError(t, err)
	require.True(t, m.Match(map[string]Attribute{"price": {DataType: "Number", Value: "15"}}))
	require.False(t, m.Match(map[string]Attribute{"price": {DataType: "Number", Value: "25"}}))
	require.False(t, m.Match(map[string]Attribute{"price": {DataType: "Number", Value: "5"}}))
}

func TestPrefixOperator(t *testing.T) {
	m, err := Compile(`{"path":[{"prefix":"/orders/"}]}`)
	require.NoError(t, err)
	require.True(t, m.Match(map[string]Attribute{"path": {DataType: "String", Value: "/orders/123"}}))
	require.False(t, m.Match(map[string]Attribute{"path": {DataType: "String", Value: "/users/123"}}))
}

func TestStringArrayMembership(t *testing.T) {
	m, err := Compile(`{"tags":["urgent"]}`)
	require.NoError(t, err)
	require.True(t, m.Match(map[string]Attribute{"tags": {DataType: "String.Array", Value: `["urgent","billing"]`}}))
	require.False(t, m.Match(map[string]Attribute{"tags": {DataType: "String.Array", Value: `["billing"]`}}))
}

func TestCompileRejectsNonObjectPolicy(t *testing.T) {
	_, err := Compile(`["not","an","object"]`)
	require.Error(t, err)
}
