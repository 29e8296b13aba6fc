package models

import (
	"slices"
	"time"
)

type Box struct {
	ID                int64     `json:"id"`
	LotID             int64     `json:"lotId"`
	ShipmentID        *int64    `json:"shipmentId,omitempty"`
	Label             string    `json:"label"`
	AllowedAgentCodes []string  `json:"allowedAgentCodes"`
	CreatedAt         time.Time `json:"createdAt"`
}

// AllowsAgentCode reports whether a parcel with the given agent code may be packed into the box.
// An empty allow-list means the box is unrestricted.
func (b *Box) AllowsAgentCode(code *string) bool {
	if len(b.AllowedAgentCodes) == 0 {
		return true
	}
	if code == nil {
		return false
	}
	return slices.Contains(b.AllowedAgentCodes, *code)
}

func (b *Box) Clone() *Box {
	c := *b
	c.ShipmentID = cloneInt64(b.ShipmentID)
	c.AllowedAgentCodes = slices.Clone(b.AllowedAgentCodes)
	return &c
}

// Lot groups boxes on the VN delivery side.
type Lot struct {
	ID          int64      `json:"id"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Shipment groups boxes for the US→VN leg.
type Shipment struct {
	ID          int64      `json:"id"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}
