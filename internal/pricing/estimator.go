// Package pricing turns file metadata and order parameters into a quoted
// price range. File size stands in for model mass until the slicer has
// measured the real filament weight.
package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/YelzhanWeb/printforge/internal/domain"
)

// Input is the order data the estimator prices.
type Input struct {
	FileSizeBytes int64
	Material      domain.Material
	Quantity      int
	FileType      string
}

// Estimator is safe for concurrent use; it only reads its Table.
type Estimator struct {
	table *Table
}

func NewEstimator(table *Table) *Estimator {
	if table == nil {
		table = DefaultTable()
	}
	return &Estimator{table: table}
}

// Estimate prices an order from its file size alone.
func (e *Estimator) Estimate(in Input) domain.EstimatedCost {
	cfg := e.table.cfg
	in = normalize(in)

	tier := e.table.TierFor(in.FileSizeBytes)
	sizeMB := float64(in.FileSizeBytes) / 1_000_000
	grams := math.Max(sizeMB*cfg.GramsPerMB*tier.Factor, cfg.MinGrams)

	q := e.quote(in, tier, grams)
	total := q.variable*(1-q.discount) + q.flat

	low := math.Max(total*cfg.LowFactor, cfg.MinimumPrice)
	high := total * cfg.HighFactor

	sentences := []string{
		fmt.Sprintf("Based on ~%.0fg of %s filament per unit (%s geometry, estimated from %s file size).",
			grams, in.Material, tier.Label, fileLabel(in.FileType)),
	}
	if q.pct > 0 {
		sentences = append(sentences, fmt.Sprintf("%d%% bulk discount applied.", q.pct))
	}
	sentences = append(sentences, "Final price confirmed by admin after file review.")

	return e.result(q, tier, grams, low, high, domain.SourceFileSize, sentences)
}

// Refine re-prices an order from slicer-measured filament mass per copy.
// The band is tighter than the size-based one because the mass is known.
func (e *Estimator) Refine(in Input, measuredGrams float64) domain.EstimatedCost {
	if measuredGrams <= 0 || math.IsNaN(measuredGrams) || math.IsInf(measuredGrams, 0) {
		return e.Estimate(in)
	}
	cfg := e.table.cfg
	in = normalize(in)

	tier := e.table.TierFor(in.FileSizeBytes)
	q := e.quote(in, tier, measuredGrams)
	keep := 1 - q.discount
	rest := q.labor*keep + q.flat

	low := math.Max(q.material*keep*cfg.MeasuredLow+rest, cfg.MinimumPrice)
	high := q.material*keep*cfg.MeasuredHigh + rest + cfg.MeasuredSpread

	sentences := []string{
		fmt.Sprintf("Based on %.1fg of %s filament per unit measured by the slicer (%s geometry).",
			measuredGrams, in.Material, tier.Label),
	}
	if q.pct > 0 {
		sentences = append(sentences, fmt.Sprintf("%d%% bulk discount applied.", q.pct))
	}
	sentences = append(sentences, "Final price confirmed by admin after file review.")

	return e.result(q, tier, measuredGrams, low, high, domain.SourceSlicer, sentences)
}

// ForOrder prices from measured data when the order has it and from file
// size otherwise, so a re-price never drops back to the proxy.
func (e *Estimator) ForOrder(in Input, stats domain.GcodeStats) domain.EstimatedCost {
	if stats.HasMeasuredGrams() {
		return e.Refine(in, *stats.FilamentUsedG)
	}
	return e.Estimate(in)
}

type quote struct {
	qty      int
	pct      int
	discount float64
	material float64 // all copies, before discount
	labor    float64 // per-unit labor for all copies, before discount
	variable float64
	flat     float64
	base     float64
}

func (e *Estimator) quote(in Input, tier Tier, grams float64) quote {
	cfg := e.table.cfg
	pct := e.table.DiscountPct(in.Quantity)
	material := grams * e.table.UnitCost(in.Material) * float64(in.Quantity)
	labor := cfg.PerUnitLabor * float64(in.Quantity)
	return quote{
		qty:      in.Quantity,
		pct:      pct,
		discount: float64(pct) / 100,
		material: material,
		labor:    labor,
		variable: material + labor,
		flat:     tier.Fee + cfg.BaseLabor,
		base:     cfg.BaseLabor,
	}
}

func (e *Estimator) result(q quote, tier Tier, grams, low, high float64, source domain.EstimateSource, sentences []string) domain.EstimatedCost {
	low = money(low)
	high = money(high)
	if high < low {
		high = low
	}
	return domain.EstimatedCost{
		Low:      low,
		High:     high,
		Currency: e.table.cfg.Currency,
		Breakdown: domain.CostBreakdown{
			MaterialCost:   money(q.material),
			LaborCost:      money(q.base + q.labor),
			ComplexityCost: money(tier.Fee),
			QuantityTotal:  q.qty,
			DiscountPct:    q.pct,
			EstimatedGrams: round(grams, 1),
			ComplexityTier: tier.Label,
		},
		Disclaimer: strings.Join(sentences, " "),
		Source:     source,
	}
}

func normalize(in Input) Input {
	if in.Quantity < 1 {
		in.Quantity = 1
	}
	if in.FileSizeBytes < 0 {
		in.FileSizeBytes = 0
	}
	if in.Material == "" {
		in.Material = domain.MaterialPLA
	}
	return in
}

func fileLabel(fileType string) string {
	ft := strings.ToUpper(strings.TrimPrefix(fileType, "."))
	if ft == "" {
		return "model"
	}
	return ft
}

func money(v float64) float64 {
	return round(v, 2)
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
