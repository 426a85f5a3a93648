package domain

import "math"

const (
	// riskHorizonDays: a partir de este plazo medio el factor temporal satura en 1.
	riskHorizonDays = 180.0
	// riskMaxConcurrent: a partir de este número de oportunidades simultáneas
	// el factor de concentración satura en 1.
	riskMaxConcurrent = 10.0
)

// PortfolioStats resume el conjunto de oportunidades vigente.
type PortfolioStats struct {
	Count              int
	MeanAnnualized     float64
	MeanDaysUntilClose float64
	TotalProfitOn100   float64
	RiskScore          float64 // [0,1]
}

// ComputePortfolioStats agrega las métricas del portfolio.
// Con un conjunto vacío todas las métricas son 0.
func ComputePortfolioStats(opps []ArbitrageOpportunity) PortfolioStats {
	stats := PortfolioStats{Count: len(opps)}
	if len(opps) == 0 {
		return stats
	}

	var sumAPR, sumDays float64
	for _, o := range opps {
		sumAPR += o.AnnualizedReturn
		sumDays += float64(o.DaysUntilClose)
		stats.TotalProfitOn100 += o.ProfitOn100
	}
	n := float64(len(opps))
	stats.MeanAnnualized = sumAPR / n
	stats.MeanDaysUntilClose = sumDays / n
	stats.RiskScore = RiskScore(stats.MeanDaysUntilClose, len(opps))
	return stats
}

// RiskScore combina el plazo medio hasta el cierre y el número de
// oportunidades simultáneas. Cada factor se acota a [0,1] por separado
// y luego se multiplican:
//
//	risk = clamp(meanDays / 180) × clamp(count / 10)
func RiskScore(meanDays float64, count int) float64 {
	timeFactor := clamp01(meanDays / riskHorizonDays)
	countFactor := clamp01(float64(count) / riskMaxConcurrent)
	return timeFactor * countFactor
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return math.Min(v, 1)
}
