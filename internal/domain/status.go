package domain

import "time"

type Material string

const (
	MaterialPLA   Material = "PLA"
	MaterialPETG  Material = "PETG"
	MaterialABS   Material = "ABS"
	MaterialTPU   Material = "TPU"
	MaterialASA   Material = "ASA"
	MaterialNylon Material = "NYLON"
	MaterialResin Material = "RESIN"
)

// Materials lists every accepted material in display order.
var Materials = []Material{
	MaterialPLA, MaterialPETG, MaterialABS, MaterialTPU, MaterialASA, MaterialNylon, MaterialResin,
}

func (m Material) Valid() bool {
	for _, known := range Materials {
		if m == known {
			return true
		}
	}
	return false
}

// Status is the business lifecycle of a custom order, driven by admins.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusReviewing  Status = "Reviewing"
	StatusQuoted     Status = "Quoted"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReviewing, StatusQuoted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// SliceStatus tracks toolpath generation for the order's model file.
type SliceStatus string

const (
	SlicePending     SliceStatus = "pending"
	SliceSlicing     SliceStatus = "slicing"
	SliceDone        SliceStatus = "done"
	SliceError       SliceStatus = "error"
	SliceUnsupported SliceStatus = "unsupported"
)

func (s SliceStatus) Valid() bool {
	switch s {
	case SlicePending, SliceSlicing, SliceDone, SliceError, SliceUnsupported:
		return true
	}
	return false
}

// Axis names which state machine an event log entry belongs to.
type Axis string

const (
	AxisStatus Axis = "status"
	AxisSlice  Axis = "slice"
)

// StatusLog represents a log entry for order status changes
type StatusLog struct {
	ID        int
	OrderID   string
	Axis      Axis
	Value     string
	ChangedBy string
	ChangedAt time.Time
	Notes     *string
}
