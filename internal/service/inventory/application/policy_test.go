package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPolicyAllowsEverything(t *testing.T) {
	p, err := NewPolicy("")
	require.NoError(t, err)
	assert.Nil(t, p)

	ok, err := p.Allow("O1", "SKU-1", 1_000_000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", p.String())
}

func TestPolicyEvaluatesVariables(t *testing.T) {
	p, err := NewPolicy(`qty <= 5 && !sku.startsWith("PRESALE-") && order_id != ""`)
	require.NoError(t, err)

	tests := []struct {
		name    string
		orderID string
		sku     string
		qty     int64
		want    bool
	}{
		{"within limit", "O1", "SKU-1", 5, true},
		{"over limit", "O1", "SKU-1", 6, false},
		{"presale sku", "O1", "PRESALE-1", 1, false},
		{"missing order", "", "SKU-1", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Allow(tt.orderID, tt.sku, tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyRejectsInvalidExpressions(t *testing.T) {
	for _, expr := range []string{
		"qty +",            // syntax error
		"qty + 1",          // not a bool
		"unknown_var == 1", // undeclared reference
	} {
		_, err := NewPolicy(expr)
		assert.Error(t, err, expr)
	}
}
