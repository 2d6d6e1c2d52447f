package domain

import (
	"encoding/json"
	"time"
)

// OrderPatch is a field-level partial update. Nil fields are left untouched so
// a slicing completion write and an admin edit never clobber each other.
type OrderPatch struct {
	CustomerName   *string
	CustomerEmail  *string
	OrderDetails   *[]json.RawMessage
	Material       *Material
	Color          *string
	Quantity       *int
	Notes          *string
	SliceStatus    *SliceStatus
	SliceError     **string
	GcodeURL       *string
	GcodeStats     *GcodeStats
	EstimatedCost  *EstimatedCost
	ConfirmedPrice *float64
	Status         *Status

	// ExpectSliceStatus, when set, makes the update conditional on the
	// stored sliceStatus being one of these values.
	ExpectSliceStatus []SliceStatus
}

func (p OrderPatch) Empty() bool {
	return p.CustomerName == nil && p.CustomerEmail == nil && p.OrderDetails == nil &&
		p.Material == nil && p.Color == nil && p.Quantity == nil && p.Notes == nil &&
		p.SliceStatus == nil && p.SliceError == nil && p.GcodeURL == nil && p.GcodeStats == nil &&
		p.EstimatedCost == nil && p.ConfirmedPrice == nil && p.Status == nil
}

// Matches reports whether the guard in ExpectSliceStatus holds for the order.
func (p OrderPatch) Matches(o *CustomOrder) bool {
	if len(p.ExpectSliceStatus) == 0 {
		return true
	}
	for _, s := range p.ExpectSliceStatus {
		if o.SliceStatus == s {
			return true
		}
	}
	return false
}

// Apply merges the patch into an in-memory order.
func (p OrderPatch) Apply(o *CustomOrder) {
	if p.CustomerName != nil {
		o.CustomerName = *p.CustomerName
	}
	if p.CustomerEmail != nil {
		o.CustomerEmail = *p.CustomerEmail
	}
	if p.OrderDetails != nil {
		o.OrderDetails = *p.OrderDetails
	}
	if p.Material != nil {
		o.Material = *p.Material
	}
	if p.Color != nil {
		o.Color = *p.Color
	}
	if p.Quantity != nil {
		o.Quantity = *p.Quantity
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	if p.SliceStatus != nil {
		o.SliceStatus = *p.SliceStatus
	}
	if p.SliceError != nil {
		o.SliceError = *p.SliceError
	}
	if p.GcodeURL != nil {
		url := *p.GcodeURL
		o.GcodeURL = &url
	}
	if p.GcodeStats != nil {
		o.GcodeStats = *p.GcodeStats
	}
	if p.EstimatedCost != nil {
		o.EstimatedCost = *p.EstimatedCost
	}
	if p.ConfirmedPrice != nil {
		price := *p.ConfirmedPrice
		o.ConfirmedPrice = &price
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	o.UpdatedAt = time.Now().UTC()
}
