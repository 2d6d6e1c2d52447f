package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// Tier maps a file-size bracket to a complexity label, a size-to-mass factor
// and a flat fee. MaxBytes is inclusive; zero means unbounded.
type Tier struct {
	MaxBytes int64
	Label    string
	Factor   float64
	Fee      float64
}

// DiscountStep applies Pct to the variable cost once quantity reaches MinQty.
type DiscountStep struct {
	MinQty int
	Pct    int
}

// TableConfig is the mutable input used to build a Table.
type TableConfig struct {
	UnitCost         map[domain.Material]float64
	FallbackMaterial domain.Material
	Tiers            []Tier
	Discounts        []DiscountStep
	BaseLabor        float64
	PerUnitLabor     float64
	MinimumPrice     float64
	Currency         string
	GramsPerMB       float64
	MinGrams         float64
	LowFactor        float64
	HighFactor       float64
	MeasuredLow      float64
	MeasuredHigh     float64
	MeasuredSpread   float64
}

// Table is the immutable pricing lookup. Build it once at startup.
type Table struct {
	cfg TableConfig
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		UnitCost: map[domain.Material]float64{
			domain.MaterialPLA:   0.025,
			domain.MaterialPETG:  0.030,
			domain.MaterialABS:   0.028,
			domain.MaterialTPU:   0.045,
			domain.MaterialASA:   0.035,
			domain.MaterialNylon: 0.060,
			domain.MaterialResin: 0.080,
		},
		FallbackMaterial: domain.MaterialPLA,
		Tiers: []Tier{
			{MaxBytes: 500_000, Label: "Simple", Factor: 1.0, Fee: 2.00},
			{MaxBytes: 2_000_000, Label: "Moderate", Factor: 1.3, Fee: 5.00},
			{MaxBytes: 10_000_000, Label: "Complex", Factor: 1.6, Fee: 12.00},
			{MaxBytes: 0, Label: "Highly Complex", Factor: 2.0, Fee: 22.00},
		},
		Discounts: []DiscountStep{
			{MinQty: 5, Pct: 6},
			{MinQty: 10, Pct: 12},
			{MinQty: 20, Pct: 20},
		},
		BaseLabor:      4.00,
		PerUnitLabor:   1.50,
		MinimumPrice:   8.00,
		Currency:       "USD",
		GramsPerMB:     25,
		MinGrams:       5,
		LowFactor:      0.82,
		HighFactor:     1.22,
		MeasuredLow:    1.6,
		MeasuredHigh:   2.0,
		MeasuredSpread: 2.00,
	}
}

// DefaultTable returns the calibrated production table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultTableConfig())
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates cfg and returns a Table holding its own copy of it.
func NewTable(cfg TableConfig) (*Table, error) {
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("pricing: at least one tier is required")
	}
	if _, ok := cfg.UnitCost[cfg.FallbackMaterial]; !ok {
		return nil, fmt.Errorf("pricing: fallback material %s has no unit cost", cfg.FallbackMaterial)
	}
	if cfg.LowFactor > cfg.HighFactor || cfg.MeasuredLow > cfg.MeasuredHigh {
		return nil, errors.New("pricing: low factor must not exceed high factor")
	}

	unit := make(map[domain.Material]float64, len(cfg.UnitCost))
	for k, v := range cfg.UnitCost {
		unit[k] = v
	}
	cfg.UnitCost = unit

	tiers := append([]Tier(nil), cfg.Tiers...)
	for i, t := range tiers {
		if t.MaxBytes == 0 && i != len(tiers)-1 {
			return nil, errors.New("pricing: only the last tier may be unbounded")
		}
		if i > 0 && t.MaxBytes != 0 && t.MaxBytes <= tiers[i-1].MaxBytes {
			return nil, errors.New("pricing: tier thresholds must increase")
		}
	}
	cfg.Tiers = tiers

	discounts := append([]DiscountStep(nil), cfg.Discounts...)
	sort.Slice(discounts, func(i, j int) bool { return discounts[i].MinQty < discounts[j].MinQty })
	cfg.Discounts = discounts

	return &Table{cfg: cfg}, nil
}

// UnitCost returns the cost per gram, falling back for unknown materials.
func (t *Table) UnitCost(m domain.Material) float64 {
	if c, ok := t.cfg.UnitCost[m]; ok {
		return c
	}
	return t.cfg.UnitCost[t.cfg.FallbackMaterial]
}

// TierFor selects the complexity tier for a file size.
func (t *Table) TierFor(fileSizeBytes int64) Tier {
	for _, tier := range t.cfg.Tiers {
		if tier.MaxBytes == 0 || fileSizeBytes <= tier.MaxBytes {
			return tier
		}
	}
	return t.cfg.Tiers[len(t.cfg.Tiers)-1]
}

// DiscountPct returns the bulk discount percentage for a quantity.
func (t *Table) DiscountPct(quantity int) int {
	pct := 0
	for _, step := range t.cfg.Discounts {
		if quantity >= step.MinQty {
			pct = step.Pct
		}
	}
	return pct
}

func (t *Table) MinimumPrice() float64 {
	return t.cfg.MinimumPrice
}
