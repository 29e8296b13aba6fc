package audit

// Event is a closed set of audit payloads. Only types declared in this package implement it.
type Event interface {
	Kind() string
	event()
}

const (
	KindParcelRegistered              = "ParcelRegistered"
	KindParcelStatusChanged           = "ParcelStatusChanged"
	KindParcelAgentCodeAssigned       = "ParcelAgentCodeAssigned"
	KindParcelChainChanged            = "ParcelChainChanged"
	KindParcelsPacked                 = "ParcelsPacked"
	KindParcelPiecesSplit             = "ParcelPiecesSplit"
	KindParcelHoldStateChanged        = "ParcelHoldStateChanged"
	KindParcelDeleted                 = "ParcelDeleted"
	KindParcelBoxCleared              = "ParcelBoxCleared"
	KindBrokenProductFlagged          = "BrokenProductFlagged"
	KindBrokenProductFeedbackRecorded = "BrokenProductFeedbackRecorded"
	KindBrokenProductChecked          = "BrokenProductChecked"
	KindPieceBoxed                    = "PieceBoxed"
	KindPieceUnboxed                  = "PieceUnboxed"
	KindPieceMoved                    = "PieceMoved"
	KindPieceReceivedAtVN             = "PieceReceivedAtVN"
	KindBoxCreated                    = "BoxCreated"
	KindLotCreated                    = "LotCreated"
	KindShipmentCreated               = "ShipmentCreated"
	KindBoxDeleted                    = "BoxDeleted"
	KindBoxAttachedToShipment         = "BoxAttachedToShipment"
	KindLotCommitted                  = "LotCommitted"
	KindShipmentCommitted             = "ShipmentCommitted"
	KindRequestCreated                = "RequestCreated"
	KindRequestQuantityChecked        = "RequestQuantityChecked"
	KindRequestDeleted                = "RequestDeleted"
	KindBuyerCreditChanged            = "BuyerCreditChanged"
)

type ParcelRegistered struct {
	ParcelID       int64  `json:"parcelId"`
	TrackingNumber string `json:"trackingNumber"`
	Quantity       int    `json:"quantity"`
}

type ParcelStatusChanged struct {
	ParcelID       int64  `json:"parcelId"`
	TrackingNumber string `json:"trackingNumber"`
	From           string `json:"from"`
	To             string `json:"to"`
}

type ParcelAgentCodeAssigned struct {
	ParcelID int64   `json:"parcelId"`
	From     *string `json:"from"`
	To       *string `json:"to"`
}

type ParcelChainChanged struct {
	ParcelID int64  `json:"parcelId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type ParcelsPacked struct {
	ParcelIDs []int64 `json:"parcelIds"`
	Chain     string  `json:"chain"`
}

type ParcelPiecesSplit struct {
	ParcelID int64 `json:"parcelId"`
	From     int   `json:"from"`
	To       int   `json:"to"`
}

type ParcelHoldStateChanged struct {
	ParcelID int64  `json:"parcelId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type ParcelDeleted struct {
	ParcelID       int64  `json:"parcelId"`
	TrackingNumber string `json:"trackingNumber"`
}

type ParcelBoxCleared struct {
	ParcelID int64 `json:"parcelId"`
	BoxID    int64 `json:"boxId"`
}

type BrokenProductFlagged struct {
	ParcelID    int64  `json:"parcelId"`
	Description string `json:"description"`
}

type BrokenProductFeedbackRecorded struct {
	ParcelID int64  `json:"parcelId"`
	Feedback string `json:"feedback"`
}

type BrokenProductChecked struct {
	ParcelID int64 `json:"parcelId"`
}

type PieceBoxed struct {
	PieceID  int64 `json:"pieceId"`
	ParcelID int64 `json:"parcelId"`
	BoxID    int64 `json:"boxId"`
}

type PieceUnboxed struct {
	PieceID  int64 `json:"pieceId"`
	ParcelID int64 `json:"parcelId"`
	BoxID    int64 `json:"boxId"`
}

type PieceMoved struct {
	PieceID   int64 `json:"pieceId"`
	ParcelID  int64 `json:"parcelId"`
	FromBoxID int64 `json:"fromBoxId"`
	BoxID     int64 `json:"boxId"`
}

type PieceReceivedAtVN struct {
	PieceID  int64 `json:"pieceId"`
	ParcelID int64 `json:"parcelId"`
}

type BoxCreated struct {
	BoxID int64  `json:"boxId"`
	Label string `json:"label"`
}

type LotCreated struct {
	LotID int64 `json:"lotId"`
}

type ShipmentCreated struct {
	ShipmentID int64 `json:"shipmentId"`
}

type BoxDeleted struct {
	BoxID     int64   `json:"boxId"`
	ParcelIDs []int64 `json:"parcelIds"`
}

type BoxAttachedToShipment struct {
	BoxID      int64 `json:"boxId"`
	ShipmentID int64 `json:"shipmentId"`
}

type LotCommitted struct {
	LotID  int64   `json:"lotId"`
	BoxIDs []int64 `json:"boxIds"`
}

type ShipmentCommitted struct {
	ShipmentID int64   `json:"shipmentId"`
	BoxIDs     []int64 `json:"boxIds"`
	ParcelIDs  []int64 `json:"parcelIds"`
}

type RequestCreated struct {
	RequestID      int64   `json:"requestId"`
	BuyerID        int64   `json:"buyerId"`
	TrackingNumber string  `json:"trackingNumber"`
	Type           string  `json:"type"`
	ParcelIDs      []int64 `json:"parcelIds"`
}

type RequestQuantityChecked struct {
	RequestID int64   `json:"requestId"`
	ParcelIDs []int64 `json:"parcelIds"`
	Expected  int     `json:"expected"`
	Actual    int     `json:"actual"`
	Mismatch  bool    `json:"mismatch"`
}

type RequestDeleted struct {
	RequestID int64 `json:"requestId"`
	BuyerID   int64 `json:"buyerId"`
	Refunded  bool  `json:"refunded"`
}

type BuyerCreditChanged struct {
	BuyerID   int64 `json:"buyerId"`
	RequestID int64 `json:"requestId"`
	Delta     int   `json:"delta"`
	Balance   int   `json:"balance"`
}

func (ParcelRegistered) Kind() string              { return KindParcelRegistered }
func (ParcelStatusChanged) Kind() string           { return KindParcelStatusChanged }
func (ParcelAgentCodeAssigned) Kind() string       { return KindParcelAgentCodeAssigned }
func (ParcelChainChanged) Kind() string            { return KindParcelChainChanged }
func (ParcelsPacked) Kind() string                 { return KindParcelsPacked }
func (ParcelPiecesSplit) Kind() string             { return KindParcelPiecesSplit }
func (ParcelHoldStateChanged) Kind() string        { return KindParcelHoldStateChanged }
func (ParcelDeleted) Kind() string                 { return KindParcelDeleted }
func (ParcelBoxCleared) Kind() string              { return KindParcelBoxCleared }
func (BrokenProductFlagged) Kind() string          { return KindBrokenProductFlagged }
func (BrokenProductFeedbackRecorded) Kind() string { return KindBrokenProductFeedbackRecorded }
func (BrokenProductChecked) Kind() string          { return KindBrokenProductChecked }
func (PieceBoxed) Kind() string                    { return KindPieceBoxed }
func (PieceUnboxed) Kind() string                  { return KindPieceUnboxed }
func (PieceMoved) Kind() string                    { return KindPieceMoved }
func (PieceReceivedAtVN) Kind() string             { return KindPieceReceivedAtVN }
func (BoxCreated) Kind() string                    { return KindBoxCreated }
func (LotCreated) Kind() string                    { return KindLotCreated }
func (ShipmentCreated) Kind() string               { return KindShipmentCreated }
func (BoxDeleted) Kind() string                    { return KindBoxDeleted }
func (BoxAttachedToShipment) Kind() string         { return KindBoxAttachedToShipment }
func (LotCommitted) Kind() string                  { return KindLotCommitted }
func (ShipmentCommitted) Kind() string             { return KindShipmentCommitted }
func (RequestCreated) Kind() string                { return KindRequestCreated }
func (RequestQuantityChecked) Kind() string        { return KindRequestQuantityChecked }
func (RequestDeleted) Kind() string                { return KindRequestDeleted }
func (BuyerCreditChanged) Kind() string            { return KindBuyerCreditChanged }

func (ParcelRegistered) event()              {}
func (ParcelStatusChanged) event()           {}
func (ParcelAgentCodeAssigned) event()       {}
func (ParcelChainChanged) event()            {}
func (ParcelsPacked) event()                 {}
func (ParcelPiecesSplit) event()             {}
func (ParcelHoldStateChanged) event()        {}
func (ParcelDeleted) event()                 {}
func (ParcelBoxCleared) event()              {}
func (BrokenProductFlagged) event()          {}
func (BrokenProductFeedbackRecorded) event() {}
func (BrokenProductChecked) event()          {}
func (PieceBoxed) event()                    {}
func (PieceUnboxed) event()                  {}
func (PieceMoved) event()                    {}
func (PieceReceivedAtVN) event()             {}
func (BoxCreated) event()                    {}
func (LotCreated) event()                    {}
func (ShipmentCreated) event()               {}
func (BoxDeleted) event()                    {}
func (BoxAttachedToShipment) event()         {}
func (LotCommitted) event()                  {}
func (ShipmentCommitted) event()             {}
func (RequestCreated) event()                {}
func (RequestQuantityChecked) event()        {}
func (RequestDeleted) event()                {}
func (BuyerCreditChanged) event()            {}

// текущая версия схемы payload, общая для всех видов
const schemaVersion = 1

var registry = map[string]func(raw []byte) (Event, error){
	KindParcelRegistered:              decodeAs[ParcelRegistered],
	KindParcelStatusChanged:           decodeAs[ParcelStatusChanged],
	KindParcelAgentCodeAssigned:       decodeAs[ParcelAgentCodeAssigned],
	KindParcelChainChanged:            decodeAs[ParcelChainChanged],
	KindParcelsPacked:                 decodeAs[ParcelsPacked],
	KindParcelPiecesSplit:             decodeAs[ParcelPiecesSplit],
	KindParcelHoldStateChanged:        decodeAs[ParcelHoldStateChanged],
	KindParcelDeleted:                 decodeAs[ParcelDeleted],
	KindParcelBoxCleared:              decodeAs[ParcelBoxCleared],
	KindBrokenProductFlagged:          decodeAs[BrokenProductFlagged],
	KindBrokenProductFeedbackRecorded: decodeAs[BrokenProductFeedbackRecorded],
	KindBrokenProductChecked:          decodeAs[BrokenProductChecked],
	KindPieceBoxed:                    decodeAs[PieceBoxed],
	KindPieceUnboxed:                  decodeAs[PieceUnboxed],
	KindPieceMoved:                    decodeAs[PieceMoved],
	KindPieceReceivedAtVN:             decodeAs[PieceReceivedAtVN],
	KindBoxCreated:                    decodeAs[BoxCreated],
	KindLotCreated:                    decodeAs[LotCreated],
	KindShipmentCreated:               decodeAs[ShipmentCreated],
	KindBoxDeleted:                    decodeAs[BoxDeleted],
	KindBoxAttachedToShipment:         decodeAs[BoxAttachedToShipment],
	KindLotCommitted:                  decodeAs[LotCommitted],
	KindShipmentCommitted:             decodeAs[ShipmentCommitted],
	KindRequestCreated:                decodeAs[RequestCreated],
	KindRequestQuantityChecked:        decodeAs[RequestQuantityChecked],
	KindRequestDeleted:                decodeAs[RequestDeleted],
	KindBuyerCreditChanged:            decodeAs[BuyerCreditChanged],
}
