package models

import "time"

// Piece is a physical sub-unit of a parcel, boxed independently.
type Piece struct {
	ID             int64      `json:"id"`
	ParcelID       int64      `json:"parcelId"`
	Number         int        `json:"number"`
	BoxID          *int64     `json:"boxId,omitempty"`
	BoxedAt        *time.Time `json:"boxedAt,omitempty"`
	FlyingBackAt   *time.Time `json:"flyingBackAt,omitempty"`
	ReceivedAtVNAt *time.Time `json:"receivedAtVnAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (p *Piece) Boxed() bool {
	return p.BoxID != nil
}

func (p *Piece) Clone() *Piece {
	c := *p
	c.BoxID = cloneInt64(p.BoxID)
	c.BoxedAt = cloneTime(p.BoxedAt)
	c.FlyingBackAt = cloneTime(p.FlyingBackAt)
	c.ReceivedAtVNAt = cloneTime(p.ReceivedAtVNAt)
	return &c
}
