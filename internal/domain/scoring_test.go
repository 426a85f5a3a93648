package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePortfolioStats_Empty(t *testing.T) {
	stats := ComputePortfolioStats(nil)
	assert.Equal(t, PortfolioStats{}, stats)
}

func TestComputePortfolioStats_Basic(t *testing.T) {
	opps := []ArbitrageOpportunity{
		{AnnualizedReturn: 0.50, DaysUntilClose: 10, ProfitOn100: 2.0},
		{AnnualizedReturn: 0.10, DaysUntilClose: 30, ProfitOn100: 1.0},
	}
	stats := ComputePortfolioStats(opps)

	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 0.30, stats.MeanAnnualized, 1e-9)
	assert.InDelta(t, 20.0, stats.MeanDaysUntilClose, 1e-9)
	assert.InDelta(t, 3.0, stats.TotalProfitOn100, 1e-9)
	// (20/180) × (2/10)
	assert.InDelta(t, 20.0/180*0.2, stats.RiskScore, 1e-9)
}

func TestRiskScore_Bounded(t *testing.T) {
	assert.Equal(t, 0.0, RiskScore(0, 5))
	assert.Equal(t, 0.0, RiskScore(30, 0))
	assert.Equal(t, 1.0, RiskScore(1000, 1000))
	assert.InDelta(t, 0.5, RiskScore(90, 10), 1e-9)
}

func TestRiskScore_MonotoneInBothInputs(t *testing.T) {
	prev := 0.0
	for days := 0.0; days <= 400; days += 20 {
		r := RiskScore(days, 5)
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
	prev = 0.0
	for n := 0; n <= 20; n++ {
		r := RiskScore(60, n)
		assert.GreaterOrEqual(t, r, prev)
		assert.LessOrEqual(t, r, 1.0)
		prev = r
	}
}
