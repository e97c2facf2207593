package engine

import (
	"time"

	"github.com/observastack/health-sentinel/internal/models"
)

// Factor weights for the overall confidence blend. Indicator quality
// dominates: a verdict built from untrustworthy indicators cannot itself be
// trustworthy, whatever the sample count says.
const (
	weightSampleSize         = 0.25
	weightIndicatorCoverage  = 0.15
	weightIndicatorQuality   = 0.30
	weightDataFreshness      = 0.15
	weightIndicatorAgreement = 0.15
)

// ConfidenceModel scores how much an evaluation's verdict should be trusted.
// The five factors are kept separate in the result so "why is confidence
// low" is answerable per factor.
type ConfidenceModel struct {
	expectedIndicators int
	maxDataAge         time.Duration
}

// NewConfidenceModel constructs a model; non-positive arguments fall back to
// five expected indicators and a five minute freshness horizon.
func NewConfidenceModel(expectedIndicators int, maxDataAge time.Duration) *ConfidenceModel {
	if expectedIndicators <= 0 {
		expectedIndicators = 5
	}
	if maxDataAge <= 0 {
		maxDataAge = 5 * time.Minute
	}
	return &ConfidenceModel{
		expectedIndicators: expectedIndicators,
		maxDataAge:         maxDataAge,
	}
}

// Score computes the weighted overall confidence from the evaluated
// indicators, the aggregate sample size, and the data's age at evaluation
// time. The overall value is rounded to two decimals.
func (m *ConfidenceModel) Score(indicators []models.Indicator, sampleSize int64, windowEnd, now time.Time) models.ConfidenceResult {
	factors := models.ConfidenceFactors{
		SampleSize:         SampleConfidence(sampleSize),
		IndicatorCoverage:  m.coverageFactor(len(indicators)),
		IndicatorQuality:   qualityFactor(indicators),
		DataFreshness:      m.freshnessFactor(windowEnd, now),
		IndicatorAgreement: agreementFactor(indicators),
	}

	overall := factors.SampleSize*weightSampleSize +
		factors.IndicatorCoverage*weightIndicatorCoverage +
		factors.IndicatorQuality*weightIndicatorQuality +
		factors.DataFreshness*weightDataFreshness +
		factors.IndicatorAgreement*weightIndicatorAgreement

	return models.ConfidenceResult{
		Overall: round2(clamp01(overall)),
		Factors: factors,
	}
}

func (m *ConfidenceModel) coverageFactor(present int) float64 {
	return clamp01(float64(present) / float64(m.expectedIndicators))
}

// qualityFactor is the mean of the indicators' own confidence values.
func qualityFactor(indicators []models.Indicator) float64 {
	if len(indicators) == 0 {
		return 0
	}
	sum := 0.0
	for _, ind := range indicators {
		sum += ind.Confidence
	}
	return clamp01(sum / float64(len(indicators)))
}

// freshnessFactor interpolates linearly from 1 (data from now or the future)
// down to 0 at the maximum acceptable age.
func (m *ConfidenceModel) freshnessFactor(windowEnd, now time.Time) float64 {
	age := now.Sub(windowEnd)
	if age <= 0 {
		return 1
	}
	if age >= m.maxDataAge {
		return 0
	}
	return 1 - age.Seconds()/m.maxDataAge.Seconds()
}

// agreementFactor measures inter-indicator agreement as the modal state's
// share of all indicators. Zero or one indicator is trivial agreement.
func agreementFactor(indicators []models.Indicator) float64 {
	if len(indicators) <= 1 {
		return 1
	}
	counts := make(map[models.HealthState]int, 3)
	for _, ind := range indicators {
		counts[ind.State]++
	}
	modal := 0
	for _, c := range counts {
		if c > modal {
			modal = c
		}
	}
	return float64(modal) / float64(len(indicators))
}
