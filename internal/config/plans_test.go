package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveMappedAmount(t *testing.T) {
	holder := NewStaticPlanConfigHolder(DefaultPlansConfig())

	plan, mapped := holder.Resolve(2999, 1)
	assert.True(t, mapped)
	assert.Equal(t, "Agency", plan.Name)
	assert.Equal(t, int64(3500), plan.Credits)
	assert.Equal(t, 30, plan.ExpiresInDays)
}

func TestResolveFallbackFormula(t *testing.T) {
	holder := NewStaticPlanConfigHolder(DefaultPlansConfig())

	plan, mapped := holder.Resolve(2500, 10)
	assert.False(t, mapped)
	assert.Equal(t, FallbackPlanName, plan.Name)
	assert.Equal(t, int64(250), plan.Credits)
	assert.Equal(t, 0, plan.ExpiresInDays)
}

func TestResolveFallbackGuardsCentsPerCredit(t *testing.T) {
	holder := NewStaticPlanConfigHolder(DefaultPlansConfig())

	plan, mapped := holder.Resolve(500, 0)
	assert.False(t, mapped)
	assert.Equal(t, int64(500), plan.Credits)
}

func TestValidatePlansConfig(t *testing.T) {
	assert.NoError(t, validatePlansConfig(DefaultPlansConfig()))

	assert.Error(t, validatePlansConfig(PlansConfig{}))
	assert.Error(t, validatePlansConfig(PlansConfig{Plans: []Plan{
		{AmountCents: 0, Name: "Zero", Credits: 10},
	}}))
	assert.Error(t, validatePlansConfig(PlansConfig{Plans: []Plan{
		{AmountCents: 100, Name: "", Credits: 10},
	}}))
	assert.Error(t, validatePlansConfig(PlansConfig{Plans: []Plan{
		{AmountCents: 100, Name: "A", Credits: 10},
		{AmountCents: 100, Name: "B", Credits: 20},
	}}))
}
