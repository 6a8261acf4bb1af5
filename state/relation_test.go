package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationText(t *testing.T) {
	for _, rel := range []Relation{RelCustomer, RelPeer, RelProvider} {
		text, err := rel.MarshalText()
		require.NoError(t, err)
		var back Relation
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, rel, back)
	}
	_, err := RelSelf.MarshalText()
	assert.Error(t, err)
	var r Relation
	assert.ErrorContains(t, r.UnmarshalText([]byte("sibling")), `invalid relation "sibling"`)
}

func TestRelationReverse(t *testing.T) {
	assert.Equal(t, RelProvider, RelCustomer.Reverse())
	assert.Equal(t, RelCustomer, RelProvider.Reverse())
	assert.Equal(t, RelPeer, RelPeer.Reverse())
}

func TestExportable(t *testing.T) {
	rels := []Relation{RelCustomer, RelPeer, RelProvider}
	type rule struct {
		policy  ExportPolicy
		learned Relation
		allowed []Relation
	}
	rules := []rule{
		{PolicyValleyFree, RelSelf, rels},
		{PolicyValleyFree, RelCustomer, rels},
		{PolicyValleyFree, RelPeer, []Relation{RelCustomer, RelProvider}},
		{PolicyValleyFree, RelProvider, []Relation{RelCustomer, RelProvider}},
		{PolicyGaoRexford, RelSelf, rels},
		{PolicyGaoRexford, RelCustomer, rels},
		{PolicyGaoRexford, RelPeer, []Relation{RelCustomer}},
		{PolicyGaoRexford, RelProvider, []Relation{RelCustomer}},
	}
	for _, r := range rules {
		for _, to := range rels {
			want := false
			for _, a := range r.allowed {
				want = want || a == to
			}
			assert.Equal(t, want, r.policy.Exportable(r.learned, to), "%s: %s-learned to %s", r.policy, r.learned, to)
		}
	}
}

func TestExportPolicyText(t *testing.T) {
	var p ExportPolicy
	require.NoError(t, p.UnmarshalText([]byte("gao_rexford")))
	assert.Equal(t, PolicyGaoRexford, p)
	require.NoError(t, p.UnmarshalText([]byte("")))
	assert.Equal(t, PolicyValleyFree, p)
	assert.Error(t, p.UnmarshalText([]byte("anything_goes")))
}
