package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	ec := invoiceContext()
	ec.Actor.UserID = "u-42"

	params := map[string]any{
		"amount":  "${record.amount}",
		"email":   "${ record.customer.email }",
		"label":   "#${record.number} by ${actor}",
		"missing": "${record.approver}",
		"gap":     "[${record.approver}]",
		"plain":   "no placeholders",
		"count":   3,
		"nested": map[string]any{
			"list": []any{"${record_id}", "${entity_type}", "${tenant}"},
		},
	}
	got := ResolveParams(params, ec)

	assert.Equal(t, 2500.0, got["amount"], "whole-string placeholders keep their type")
	assert.Equal(t, "ap@globex.test", got["email"])
	assert.Equal(t, "#INV-0007 by u-42", got["label"])
	assert.Nil(t, got["missing"])
	assert.Equal(t, "[]", got["gap"])
	assert.Equal(t, "no placeholders", got["plain"])
	assert.Equal(t, 3, got["count"])
	nested, ok := got["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"inv-7", "invoice", "acme"}, nested["list"])

	assert.Equal(t, "${record.amount}", params["amount"], "input is not modified")
	assert.Nil(t, ResolveParams(nil, ec))
}

func TestResolveParams_NoRecord(t *testing.T) {
	ec := &ExecContext{RuleID: "r-1"}
	got := ResolveParams(map[string]any{"a": "${record.x}", "b": "${rule.id}"}, ec)
	assert.Nil(t, got["a"])
	assert.Equal(t, "r-1", got["b"])
}

func TestCheckPlaceholders(t *testing.T) {
	assert.NoError(t, checkPlaceholders(map[string]any{
		"a": "${record.items[0].sku}",
		"b": []any{"${actor}", map[string]any{"c": "${rule.id}"}},
	}))
	assert.ErrorContains(t, checkPlaceholders(map[string]any{"a": "${user.email}"}), "unknown placeholder")
	assert.ErrorContains(t, checkPlaceholders([]any{"${record.[}"}), "placeholder")
	assert.True(t, HasPlaceholder("x ${actor}"))
	assert.False(t, HasPlaceholder("$actor"))
}
