package domain

// EstimateSource records which data an estimate was derived from.
type EstimateSource string

const (
	SourceFileSize EstimateSource = "file-size"
	SourceSlicer   EstimateSource = "slicer"
)

type CostBreakdown struct {
	MaterialCost   float64 `json:"materialCost"`
	LaborCost      float64 `json:"laborCost"`
	ComplexityCost float64 `json:"complexityCost"`
	QuantityTotal  int     `json:"quantityTotal"`
	DiscountPct    int     `json:"discountPct"`
	EstimatedGrams float64 `json:"estimatedGrams"`
	ComplexityTier string  `json:"complexityTier"`
}

// EstimatedCost is a price range with its breakdown. Low never exceeds High.
type EstimatedCost struct {
	Low        float64        `json:"low"`
	High       float64        `json:"high"`
	Currency   string         `json:"currency"`
	Breakdown  CostBreakdown  `json:"breakdown"`
	Disclaimer string         `json:"disclaimer"`
	Source     EstimateSource `json:"source"`
}

// GcodeStats holds metrics read from slicer output. Every field is optional.
type GcodeStats struct {
	PrintTimeMins  *int     `json:"printTimeMins"`
	FilamentUsedMm *float64 `json:"filamentUsedMm"`
	FilamentUsedG  *float64 `json:"filamentUsedG"`
	LayerCount     *int     `json:"layerCount"`
}

// HasMeasuredGrams reports whether the slicer measured a usable filament mass.
func (s GcodeStats) HasMeasuredGrams() bool {
	return s.FilamentUsedG != nil && *s.FilamentUsedG > 0
}

func (s GcodeStats) Empty() bool {
	return s.PrintTimeMins == nil && s.FilamentUsedMm == nil && s.FilamentUsedG == nil && s.LayerCount == nil
}
