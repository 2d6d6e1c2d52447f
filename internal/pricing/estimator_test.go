package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

func TestEstimateScenarioModeratePETG(t *testing.T) {
	e := NewEstimator(DefaultTable())

	got := e.Estimate(Input{FileSizeBytes: 1_800_000, Material: domain.MaterialPETG, Quantity: 1, FileType: "stl"})

	assert.Equal(t, "Moderate", got.Breakdown.ComplexityTier)
	assert.InDelta(t, 58.5, got.Breakdown.EstimatedGrams, 0.001)
	assert.InDelta(t, 1.755, got.Breakdown.MaterialCost, 0.006)
	assert.InDelta(t, 5.50, got.Breakdown.LaborCost, 0.001)
	assert.InDelta(t, 5.00, got.Breakdown.ComplexityCost, 0.001)
	assert.Equal(t, 0, got.Breakdown.DiscountPct)
	assert.Equal(t, 1, got.Breakdown.QuantityTotal)

	// total = (1.755 + 1.50) + 5.00 + 4.00 = 12.255
	assert.Equal(t, 10.05, got.Low)
	assert.Equal(t, 14.95, got.High)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, domain.SourceFileSize, got.Source)
	assert.Contains(t, got.Disclaimer, "PETG")
	assert.Contains(t, got.Disclaimer, "STL file size")
}

func TestEstimateBulkDiscountAtTwelve(t *testing.T) {
	e := NewEstimator(DefaultTable())

	for _, m := range domain.Materials {
		got := e.Estimate(Input{FileSizeBytes: 750_000, Material: m, Quantity: 12})
		assert.Equal(t, 12, got.Breakdown.DiscountPct, "material %s", m)
		assert.Contains(t, got.Disclaimer, "12% bulk discount applied.")
	}
}

func TestTierBoundaries(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		size int64
		want string
	}{
		{0, "Simple"},
		{500_000, "Simple"},
		{500_001, "Moderate"},
		{2_000_000, "Moderate"},
		{2_000_001, "Complex"},
		{10_000_000, "Complex"},
		{10_000_001, "Highly Complex"},
		{1 << 40, "Highly Complex"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, table.TierFor(tt.size).Label, "size %d", tt.size)
	}
}

func TestDiscountThresholds(t *testing.T) {
	table := DefaultTable()

	tests := map[int]int{1: 0, 4: 0, 5: 6, 9: 6, 10: 12, 19: 12, 20: 20, 500: 20}
	for qty, want := range tests {
		assert.Equal(t, want, table.DiscountPct(qty), "qty %d", qty)
	}
}

func TestEstimateRangeInvariants(t *testing.T) {
	e := NewEstimator(DefaultTable())
	sizes := []int64{0, 1, 499_999, 500_000, 500_001, 1_999_999, 2_000_000, 9_999_999, 10_000_001, 75_000_000}
	quantities := []int{1, 2, 4, 5, 9, 10, 19, 20, 100}

	for _, size := range sizes {
		for _, qty := range quantities {
			for _, m := range append(domain.Materials, "UNOBTAINIUM") {
				got := e.Estimate(Input{FileSizeBytes: size, Material: m, Quantity: qty, FileType: "stl"})
				require.LessOrEqual(t, got.Low, got.High, "size=%d qty=%d mat=%s", size, qty, m)
				require.GreaterOrEqual(t, got.Low, 8.00, "size=%d qty=%d mat=%s", size, qty, m)
			}
		}
	}
}

func TestEstimatePerUnitPriceNonIncreasing(t *testing.T) {
	e := NewEstimator(DefaultTable())

	for _, m := range domain.Materials {
		prevLow, prevHigh := -1.0, -1.0
		for _, qty := range []int{4, 5, 9, 10, 19, 20} {
			got := e.Estimate(Input{FileSizeBytes: 3_000_000, Material: m, Quantity: qty})
			perLow := got.Low / float64(qty)
			perHigh := got.High / float64(qty)
			if prevHigh >= 0 {
				assert.LessOrEqual(t, perLow, prevLow, "material %s qty %d", m, qty)
				assert.LessOrEqual(t, perHigh, prevHigh, "material %s qty %d", m, qty)
			}
			prevLow, prevHigh = perLow, perHigh
		}
	}
}

func TestEstimateIsDeterministic(t *testing.T) {
	e := NewEstimator(DefaultTable())
	in := Input{FileSizeBytes: 4_321_987, Material: domain.MaterialTPU, Quantity: 7, FileType: "3mf"}

	first := e.Estimate(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Estimate(in))
	}
}

func TestEstimateUnknownMaterialFallsBackToPLA(t *testing.T) {
	e := NewEstimator(DefaultTable())

	unknown := e.Estimate(Input{FileSizeBytes: 1_000_000, Material: "WOOD", Quantity: 1})
	pla := e.Estimate(Input{FileSizeBytes: 1_000_000, Material: domain.MaterialPLA, Quantity: 1})

	assert.Equal(t, pla.Low, unknown.Low)
	assert.Equal(t, pla.High, unknown.High)
	assert.Equal(t, pla.Breakdown.MaterialCost, unknown.Breakdown.MaterialCost)
}

func TestEstimateTinyFileUsesMinimumGrams(t *testing.T) {
	e := NewEstimator(DefaultTable())

	got := e.Estimate(Input{FileSizeBytes: 10, Material: domain.MaterialPLA, Quantity: 1})

	assert.Equal(t, 5.0, got.Breakdown.EstimatedGrams)
	assert.Equal(t, 8.00, got.Low)
}

func TestEstimateNormalizesBadQuantity(t *testing.T) {
	e := NewEstimator(DefaultTable())

	zero := e.Estimate(Input{FileSizeBytes: 1_000_000, Material: domain.MaterialABS, Quantity: 0})
	one := e.Estimate(Input{FileSizeBytes: 1_000_000, Material: domain.MaterialABS, Quantity: 1})

	assert.Equal(t, one, zero)
}

func TestRefineUsesMeasuredGrams(t *testing.T) {
	e := NewEstimator(DefaultTable())
	in := Input{FileSizeBytes: 1_800_000, Material: domain.MaterialPETG, Quantity: 1, FileType: "stl"}

	got := e.Refine(in, 40)

	// material 1.20, rest = 1.50 + 5.00 + 4.00
	assert.Equal(t, domain.SourceSlicer, got.Source)
	assert.Equal(t, 40.0, got.Breakdown.EstimatedGrams)
	assert.Equal(t, 1.20, got.Breakdown.MaterialCost)
	assert.Equal(t, 12.42, got.Low)
	assert.Equal(t, 14.90, got.High)
	assert.Contains(t, got.Disclaimer, "measured by the slicer")
}

func TestRefineBandNarrowerThanSizeEstimate(t *testing.T) {
	e := NewEstimator(DefaultTable())
	in := Input{FileSizeBytes: 6_000_000, Material: domain.MaterialNylon, Quantity: 3}

	proxy := e.Estimate(in)
	measured := e.Refine(in, proxy.Breakdown.EstimatedGrams)

	assert.LessOrEqual(t, measured.Low, measured.High)
	assert.Less(t, measured.High-measured.Low, proxy.High-proxy.Low)
}

func TestRefineIgnoresUnusableMeasurement(t *testing.T) {
	e := NewEstimator(DefaultTable())
	in := Input{FileSizeBytes: 1_000_000, Material: domain.MaterialPLA, Quantity: 2}

	assert.Equal(t, e.Estimate(in), e.Refine(in, 0))
	assert.Equal(t, e.Estimate(in), e.Refine(in, -3))
}

func TestForOrderPrefersMeasuredData(t *testing.T) {
	e := NewEstimator(DefaultTable())
	in := Input{FileSizeBytes: 1_000_000, Material: domain.MaterialPLA, Quantity: 1}
	grams := 22.0

	assert.Equal(t, domain.SourceSlicer, e.ForOrder(in, domain.GcodeStats{FilamentUsedG: &grams}).Source)
	assert.Equal(t, domain.SourceFileSize, e.ForOrder(in, domain.GcodeStats{}).Source)
}

func TestNewTableRejectsBadConfig(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.Tiers = nil
	_, err := NewTable(cfg)
	assert.Error(t, err)

	cfg = DefaultTableConfig()
	cfg.Tiers = []Tier{{MaxBytes: 0, Label: "All"}, {MaxBytes: 10, Label: "Tiny"}}
	_, err = NewTable(cfg)
	assert.Error(t, err)

	cfg = DefaultTableConfig()
	cfg.FallbackMaterial = "WOOD"
	_, err = NewTable(cfg)
	assert.Error(t, err)
}

func TestTableIsolatedFromConfigMutation(t *testing.T) {
	cfg := DefaultTableConfig()
	table, err := NewTable(cfg)
	require.NoError(t, err)

	cfg.UnitCost[domain.MaterialPLA] = 99
	cfg.Tiers[0].Label = "Mutated"

	assert.Equal(t, 0.025, table.UnitCost(domain.MaterialPLA))
	assert.Equal(t, "Simple", table.TierFor(1).Label)
}
