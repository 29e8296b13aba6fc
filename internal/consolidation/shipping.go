package consolidation

import (
	"context"
	"strings"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/pkg/errors"
)

func (c *Consolidator) CreateLot(ctx context.Context, tx store.Tx, actor models.Actor) (*models.Lot, error) {
	l := &models.Lot{CreatedAt: c.now()}
	if err := tx.Boxes().CreateLot(ctx, l); err != nil {
		return nil, errors.Wrap(err, "create lot")
	}
	return l, c.record(ctx, tx, actor, audit.LotCreated{LotID: l.ID})
}

func (c *Consolidator) CreateShipment(ctx context.Context, tx store.Tx, actor models.Actor) (*models.Shipment, error) {
	s := &models.Shipment{CreatedAt: c.now()}
	if err := tx.Boxes().CreateShipment(ctx, s); err != nil {
		return nil, errors.Wrap(err, "create shipment")
	}
	return s, c.record(ctx, tx, actor, audit.ShipmentCreated{ShipmentID: s.ID})
}

type BoxInput struct {
	LotID             int64
	ShipmentID        *int64
	Label             string
	AllowedAgentCodes []string
}

// CreateBox opens a box inside an open lot. An empty allow-list accepts every agent code.
func (c *Consolidator) CreateBox(ctx context.Context, tx store.Tx, actor models.Actor, in BoxInput) (*models.Box, error) {
	if in.LotID <= 0 {
		return nil, apperr.ErrInvalidArgument.New("box needs a lot")
	}
	l, err := tx.Boxes().GetLot(ctx, in.LotID)
	if err != nil {
		return nil, err
	}
	if l.CommittedAt != nil {
		return nil, apperr.ErrAlreadyCommitted.New("lot %d is committed", l.ID).WithIDs(l.ID)
	}
	if in.ShipmentID != nil {
		s, err := tx.Boxes().GetShipment(ctx, *in.ShipmentID)
		if err != nil {
			return nil, err
		}
		if s.CommittedAt != nil {
			return nil, apperr.ErrAlreadyCommitted.New("shipment %d is committed", s.ID).WithIDs(s.ID)
		}
	}
	codes := make([]string, 0, len(in.AllowedAgentCodes))
	seen := map[string]bool{}
	for _, code := range in.AllowedAgentCodes {
		code = strings.TrimSpace(code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	b := &models.Box{
		LotID:             in.LotID,
		ShipmentID:        in.ShipmentID,
		Label:             strings.TrimSpace(in.Label),
		AllowedAgentCodes: codes,
		CreatedAt:         c.now(),
	}
	if err := tx.Boxes().Create(ctx, b); err != nil {
		return nil, errors.Wrap(err, "create box")
	}
	return b, c.record(ctx, tx, actor, audit.BoxCreated{BoxID: b.ID, Label: b.Label})
}

func (c *Consolidator) AttachBoxToShipment(ctx context.Context, tx store.Tx, actor models.Actor, boxID, shipmentID int64) error {
	b, err := openBox(ctx, tx, boxID)
	if err != nil {
		return err
	}
	s, err := tx.Boxes().GetShipment(ctx, shipmentID)
	if err != nil {
		return err
	}
	if s.CommittedAt != nil {
		return apperr.ErrAlreadyCommitted.New("shipment %d is committed", shipmentID).WithIDs(shipmentID)
	}
	if b.ShipmentID != nil && *b.ShipmentID == shipmentID {
		return nil
	}
	b.ShipmentID = &shipmentID
	if err := tx.Boxes().Update(ctx, b); err != nil {
		return errors.Wrap(err, "update box")
	}
	return c.record(ctx, tx, actor, audit.BoxAttachedToShipment{BoxID: boxID, ShipmentID: shipmentID})
}

// CommitLot freezes the lot; its boxes can no longer change.
func (c *Consolidator) CommitLot(ctx context.Context, tx store.Tx, actor models.Actor, lotID int64) error {
	l, err := tx.Boxes().GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if l.CommittedAt != nil {
		return apperr.ErrAlreadyCommitted.New("lot %d is committed", lotID).WithIDs(lotID)
	}
	boxes, err := tx.Boxes().ListByLot(ctx, lotID)
	if err != nil {
		return errors.Wrap(err, "list lot boxes")
	}
	at := c.now()
	l.CommittedAt = &at
	if err := tx.Boxes().UpdateLot(ctx, l); err != nil {
		return errors.Wrap(err, "update lot")
	}
	return c.record(ctx, tx, actor, audit.LotCommitted{LotID: lotID, BoxIDs: boxIDs(boxes)})
}

// CommitShipment freezes the shipment and sends its content on the way back: pieces get
// flyingBackAt, boxed parcels move to flyingBack. A multi-piece parcel follows once all of its
// pieces are on the shipment.
func (c *Consolidator) CommitShipment(ctx context.Context, tx store.Tx, actor models.Actor, shipmentID int64) ([]jobs.Job, error) {
	s, err := tx.Boxes().GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if s.CommittedAt != nil {
		return nil, apperr.ErrAlreadyCommitted.New("shipment %d is committed", shipmentID).WithIDs(shipmentID)
	}
	boxes, err := tx.Boxes().ListByShipment(ctx, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "list shipment boxes")
	}

	var pieces []*models.Piece
	var parcelIDs []int64
	seen := map[int64]bool{}
	for _, b := range boxes {
		ps, err := tx.Pieces().ListByBox(ctx, b.ID)
		if err != nil {
			return nil, errors.Wrap(err, "list box pieces")
		}
		for _, pc := range ps {
			pieces = append(pieces, pc)
			if !seen[pc.ParcelID] {
				seen[pc.ParcelID] = true
				parcelIDs = append(parcelIDs, pc.ParcelID)
			}
		}
	}
	parcels, err := tx.Parcels().GetMany(ctx, parcelIDs)
	if err != nil {
		return nil, err
	}
	// посылка на удержании не должна улететь
	if err := onHold(parcels...); err != nil {
		return nil, err
	}

	now := c.now()
	for _, pc := range pieces {
		if pc.FlyingBackAt != nil {
			continue
		}
		at := now
		pc.FlyingBackAt = &at
		if err := tx.Pieces().Update(ctx, pc); err != nil {
			return nil, errors.Wrap(err, "update piece")
		}
	}

	var out []jobs.Job
	for _, p := range parcels {
		m, err := loadMember(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		js, err := c.departParcel(ctx, tx, actor, m)
		if err != nil {
			return nil, err
		}
		out = append(out, js...)
	}

	s.CommittedAt = &now
	if err := tx.Boxes().UpdateShipment(ctx, s); err != nil {
		return nil, errors.Wrap(err, "update shipment")
	}
	if err := c.record(ctx, tx, actor, audit.ShipmentCommitted{
		ShipmentID: shipmentID, BoxIDs: boxIDs(boxes), ParcelIDs: parcelIDs,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Consolidator) departParcel(ctx context.Context, tx store.Tx, actor models.Actor, m member) ([]jobs.Job, error) {
	for _, pc := range m.pieces {
		if pc.FlyingBackAt == nil {
			return nil, nil
		}
	}
	var out []jobs.Job
	switch status.Of(m.parcel) {
	case status.Repacked:
		if m.single() {
			return nil, nil
		}
		js, err := c.engine.MoveToStatus(ctx, tx, actor, m.parcel, status.Boxed)
		if err != nil {
			return nil, err
		}
		out = append(out, js...)
		fallthrough
	case status.Boxed:
		js, err := c.engine.MoveToStatus(ctx, tx, actor, m.parcel, status.FlyingBack)
		if err != nil {
			return nil, err
		}
		out = append(out, js...)
	}
	return out, nil
}

// ReceivePieceAtVN registers one piece at the VN warehouse. The parcel moves to
// receivedAtVNWarehouse with its last piece.
func (c *Consolidator) ReceivePieceAtVN(ctx context.Context, tx store.Tx, actor models.Actor, pieceID int64) ([]jobs.Job, error) {
	pc, err := tx.Pieces().Get(ctx, pieceID)
	if err != nil {
		return nil, err
	}
	if pc.ReceivedAtVNAt != nil {
		return nil, nil
	}
	p, err := c.liveParcel(ctx, tx, pc.ParcelID)
	if err != nil {
		return nil, err
	}
	if pc.FlyingBackAt == nil {
		return nil, apperr.ErrInvalidTransition.New("piece %d has not left the US warehouse", pieceID).
			WithTrackingNumbers(p.TrackingNumber).WithIDs(pieceID)
	}
	at := c.now()
	pc.ReceivedAtVNAt = &at
	if err := tx.Pieces().Update(ctx, pc); err != nil {
		return nil, errors.Wrap(err, "update piece")
	}
	if err := c.record(ctx, tx, actor, audit.PieceReceivedAtVN{PieceID: pc.ID, ParcelID: p.ID}); err != nil {
		return nil, err
	}

	m, err := loadMember(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	for _, other := range m.pieces {
		if other.ReceivedAtVNAt == nil {
			return nil, nil
		}
	}
	if status.Of(p) != status.FlyingBack {
		return nil, nil
	}
	return c.engine.MoveToStatus(ctx, tx, actor, p, status.ReceivedAtVNWarehouse,
		status.WithPieceInfo(jobs.PieceInfo{PieceID: pc.ID, Number: pc.Number, Total: len(m.pieces)}))
}

type ChainReport struct {
	Token           string   `json:"token"`
	ParcelIDs       []int64  `json:"parcelIds"`
	TrackingNumbers []string `json:"trackingNumbers"`
	AgentCodes      []string `json:"agentCodes"`
}

// InconsistentChains lists chains whose members disagree on agent code.
func (c *Consolidator) InconsistentChains(ctx context.Context, tx store.Tx) ([]ChainReport, error) {
	tokens, err := tx.Parcels().ListMixedAgentChains(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list mixed chains")
	}
	out := make([]ChainReport, 0, len(tokens))
	for _, token := range tokens {
		ps, err := tx.Parcels().ListByChain(ctx, token)
		if err != nil {
			return nil, errors.Wrap(err, "list chain")
		}
		r := ChainReport{Token: token}
		codes := map[string]bool{}
		for _, p := range ps {
			r.ParcelIDs = append(r.ParcelIDs, p.ID)
			r.TrackingNumbers = append(r.TrackingNumbers, p.TrackingNumber)
			if code := p.AgentCodeValue(); !codes[code] {
				codes[code] = true
				r.AgentCodes = append(r.AgentCodes, code)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func boxIDs(bs []*models.Box) []int64 {
	out := make([]int64, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.ID)
	}
	return out
}
