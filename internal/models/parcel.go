package models

import "time"

type HoldState string

const (
	HoldStateNone          HoldState = ""
	HoldStateHold          HoldState = "hold"
	HoldStateProcessed     HoldState = "processed"
	HoldStateReturnProduct HoldState = "returnProduct"
)

// Timestamps is the lifecycle state of a parcel. Status is derived from it, never stored.
type Timestamps struct {
	RegisteredAt       *time.Time `json:"registeredAt,omitempty"`
	ReceivedAtUSAt     *time.Time `json:"receivedAtUsAt,omitempty"`
	RepackingStartedAt *time.Time `json:"repackingStartedAt,omitempty"`
	RepackedAt         *time.Time `json:"repackedAt,omitempty"`
	BoxedAt            *time.Time `json:"boxedAt,omitempty"`
	FlyingBackAt       *time.Time `json:"flyingBackAt,omitempty"`
	ReceivedAtVNAt     *time.Time `json:"receivedAtVnAt,omitempty"`
	PackedAtVNAt       *time.Time `json:"packedAtVnAt,omitempty"`
	PackBoxCommittedAt *time.Time `json:"packBoxCommittedAt,omitempty"`
	DeliveredAt        *time.Time `json:"deliveredAt,omitempty"`
	ArchiveAtVNAt      *time.Time `json:"archiveAtVnAt,omitempty"`
	ArchivedAt         *time.Time `json:"archivedAt,omitempty"`
}

type BrokenProduct struct {
	Description      *string    `json:"description,omitempty"`
	FlaggedAt        *time.Time `json:"flaggedAt,omitempty"`
	CustomerFeedback *string    `json:"customerFeedback,omitempty"`
	CheckedAt        *time.Time `json:"checkedAt,omitempty"`
}

// Parcel is one tracking item.
type Parcel struct {
	ID              int64         `json:"id"`
	TrackingNumber  string        `json:"trackingNumber"`
	AlternativeRef  *string       `json:"alternativeRef,omitempty"`
	AgentCode       *string       `json:"agentCode,omitempty"`
	WarehouseID     *int64        `json:"warehouseId,omitempty"`
	Chain           string        `json:"chain"`
	Quantity        int           `json:"quantity"`
	ImageCount      int           `json:"imageCount"`
	Timestamps      `json:"timestamps"`
	BrokenProduct   BrokenProduct `json:"brokenProduct"`
	HoldState       HoldState     `json:"holdState"`
	ReturnRequested bool          `json:"returnRequested"`
	DeletedAt       *time.Time    `json:"deletedAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (p *Parcel) Deleted() bool {
	return p.DeletedAt != nil
}

func (p *Parcel) Held() bool {
	return p.HoldState == HoldStateHold || p.HoldState == HoldStateReturnProduct
}

func (p *Parcel) AgentCodeValue() string {
	if p.AgentCode == nil {
		return ""
	}
	return *p.AgentCode
}

// Clone returns a deep copy; pointer fields are re-allocated so the copy can be mutated freely.
func (p *Parcel) Clone() *Parcel {
	c := *p
	c.AlternativeRef = cloneString(p.AlternativeRef)
	c.AgentCode = cloneString(p.AgentCode)
	c.WarehouseID = cloneInt64(p.WarehouseID)
	c.DeletedAt = cloneTime(p.DeletedAt)
	c.BrokenProduct = BrokenProduct{
		Description:      cloneString(p.BrokenProduct.Description),
		FlaggedAt:        cloneTime(p.BrokenProduct.FlaggedAt),
		CustomerFeedback: cloneString(p.BrokenProduct.CustomerFeedback),
		CheckedAt:        cloneTime(p.BrokenProduct.CheckedAt),
	}
	ts := p.Timestamps
	c.Timestamps = Timestamps{
		RegisteredAt:       cloneTime(ts.RegisteredAt),
		ReceivedAtUSAt:     cloneTime(ts.ReceivedAtUSAt),
		RepackingStartedAt: cloneTime(ts.RepackingStartedAt),
		RepackedAt:         cloneTime(ts.RepackedAt),
		BoxedAt:            cloneTime(ts.BoxedAt),
		FlyingBackAt:       cloneTime(ts.FlyingBackAt),
		ReceivedAtVNAt:     cloneTime(ts.ReceivedAtVNAt),
		PackedAtVNAt:       cloneTime(ts.PackedAtVNAt),
		PackBoxCommittedAt: cloneTime(ts.PackBoxCommittedAt),
		DeliveredAt:        cloneTime(ts.DeliveredAt),
		ArchiveAtVNAt:      cloneTime(ts.ArchiveAtVNAt),
		ArchivedAt:         cloneTime(ts.ArchivedAt),
	}
	return &c
}

type ParcelCreateInput struct {
	TrackingNumber string
	AlternativeRef *string
	WarehouseID    *int64
	Quantity       int
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
