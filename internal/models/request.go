package models

import "time"

type RequestType string

const (
	RequestTrackingStatusCheck RequestType = "trackingStatusCheck"
	RequestQuantityCheck       RequestType = "quantityCheck"
	RequestSpecialRequest      RequestType = "specialRequest"
	RequestHoldTracking        RequestType = "holdTracking"
	RequestReturnTracking      RequestType = "returnTracking"
	RequestCamera              RequestType = "camera"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestTrackingStatusCheck, RequestQuantityCheck, RequestSpecialRequest,
		RequestHoldTracking, RequestReturnTracking, RequestCamera:
		return true
	}
	return false
}

type PackingRequestState string

const (
	PackingRequestNone      PackingRequestState = ""
	PackingRequestHold      PackingRequestState = "hold"
	PackingRequestProcessed PackingRequestState = "processed"
)

// BuyerRequest is a buyer-issued service request against a tracking number.
// It is linked to a parcel by tracking-number match, not by foreign key.
type BuyerRequest struct {
	ID                  int64               `json:"id"`
	BuyerID             int64               `json:"buyerId"`
	TrackingNumber      string              `json:"trackingNumber"`
	Type                RequestType         `json:"type"`
	Quantity            int                 `json:"quantity"`
	ActualQuantity      *int                `json:"actualQuantity,omitempty"`
	PackingRequestState PackingRequestState `json:"packingRequestState"`
	Note                string              `json:"note,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	DeletedAt           *time.Time          `json:"deletedAt,omitempty"`
}

func (r *BuyerRequest) Clone() *BuyerRequest {
	c := *r
	if r.ActualQuantity != nil {
		v := *r.ActualQuantity
		c.ActualQuantity = &v
	}
	c.DeletedAt = cloneTime(r.DeletedAt)
	return &c
}

type Buyer struct {
	ID                 int64 `json:"id"`
	IsAdmin            bool  `json:"isAdmin"`
	PackingRequestLeft int   `json:"packingRequestLeft"`
}
