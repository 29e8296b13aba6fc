package consolidation

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/matching"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/pkg/errors"
)

const sheetOriginScan = "warehouseScan"

// RegisterParcel creates a parcel at registered with a single piece and a chain of its own.
func (c *Consolidator) RegisterParcel(ctx context.Context, tx store.Tx, actor models.Actor, in models.ParcelCreateInput) (*models.Parcel, []jobs.Job, error) {
	p, err := c.create(ctx, tx, actor, in)
	if err != nil {
		return nil, nil, err
	}
	js, err := c.engine.MoveToStatus(ctx, tx, actor, p, status.Registered)
	if err != nil {
		return nil, nil, err
	}
	return p, js, nil
}

// WarehouseScan is one intake scan at the US warehouse.
type WarehouseScan struct {
	TrackingNumber string
	WarehouseID    *int64
	ImageCount     int
}

// ApplyWarehouseScan resolves the scanned number to a parcel, creating it when unknown, and
// marks it received at the US warehouse. Repeated scans only add images.
func (c *Consolidator) ApplyWarehouseScan(ctx context.Context, tx store.Tx, actor models.Actor, scan WarehouseScan) (*models.Parcel, []jobs.Job, error) {
	p, err := c.Resolve(ctx, tx, scan.TrackingNumber)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		p, err = c.create(ctx, tx, actor, models.ParcelCreateInput{
			TrackingNumber: scan.TrackingNumber,
			WarehouseID:    scan.WarehouseID,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	changed := false
	if scan.ImageCount > 0 {
		p.ImageCount += scan.ImageCount
		changed = true
	}
	if scan.WarehouseID != nil && (p.WarehouseID == nil || *p.WarehouseID != *scan.WarehouseID) {
		id := *scan.WarehouseID
		p.WarehouseID = &id
		changed = true
	}
	if changed {
		if err := c.touch(ctx, tx, p); err != nil {
			return nil, nil, err
		}
	}
	if status.Of(p).Power() >= status.ReceivedAtUSWarehouse.Power() {
		return p, nil, nil
	}
	js, err := c.engine.MoveToStatus(ctx, tx, actor, p, status.ReceivedAtUSWarehouse, status.WithSheetOrigin(sheetOriginScan))
	if err != nil {
		return nil, nil, err
	}
	return p, js, nil
}

// Resolve finds the live parcel a tracking number refers to; nil when there is none.
// Several matches resolve to the oldest parcel.
func (c *Consolidator) Resolve(ctx context.Context, tx store.Tx, trackingNumber string) (*models.Parcel, error) {
	found, err := c.ResolveAll(ctx, tx, trackingNumber)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (c *Consolidator) ResolveAll(ctx context.Context, tx store.Tx, trackingNumber string) ([]*models.Parcel, error) {
	if strings.TrimSpace(trackingNumber) == "" {
		return nil, apperr.ErrInvalidArgument.New("tracking number is empty")
	}
	cands, err := tx.Parcels().FindCandidates(ctx, matching.Key(trackingNumber), matching.Normalize(trackingNumber))
	if err != nil {
		return nil, errors.Wrap(err, "find parcels")
	}
	return matching.Resolve(trackingNumber, cands), nil
}

func (c *Consolidator) create(ctx context.Context, tx store.Tx, actor models.Actor, in models.ParcelCreateInput) (*models.Parcel, error) {
	tn := strings.TrimSpace(in.TrackingNumber)
	if tn == "" {
		return nil, apperr.ErrInvalidArgument.New("tracking number is empty")
	}
	if in.Quantity < 0 {
		return nil, apperr.ErrInvalidArgument.New("quantity %d is negative", in.Quantity)
	}
	now := c.now()
	p := &models.Parcel{
		TrackingNumber: tn,
		AlternativeRef: in.AlternativeRef,
		WarehouseID:    in.WarehouseID,
		Quantity:       in.Quantity,
		Chain:          c.newToken(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.Parcels().Create(ctx, p); err != nil {
		return nil, err
	}
	if err := tx.Pieces().Create(ctx, &models.Piece{ParcelID: p.ID, Number: 1, CreatedAt: now}); err != nil {
		return nil, errors.Wrap(err, "create piece")
	}
	if err := c.record(ctx, tx, actor, audit.ParcelRegistered{
		ParcelID: p.ID, TrackingNumber: p.TrackingNumber, Quantity: p.Quantity,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// ChangeStatus is the manual status entry point. Moves into or out of boxed only happen through
// box operations so that piece assignment and status never disagree.
func (c *Consolidator) ChangeStatus(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, target status.Status) ([]jobs.Job, error) {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	cur := status.Of(p)
	if cur != target && (cur == status.Boxed || target == status.Boxed) {
		return nil, apperr.ErrInvalidTransition.
			New("%s -> %s must go through box operations", cur, target).
			WithTrackingNumbers(p.TrackingNumber)
	}
	return c.engine.MoveToStatus(ctx, tx, actor, p, target)
}

// AssignAgentCode sets the parcel's agent code. A parcel that shares its chain with others
// moves to a fresh chain so chains stay single-agent; a boxed piece must stay acceptable for its box.
func (c *Consolidator) AssignAgentCode(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, code *string) ([]jobs.Job, error) {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	if code != nil {
		v := strings.TrimSpace(*code)
		if v == "" {
			code = nil
		} else {
			code = &v
		}
	}
	if sameCode(p.AgentCode, code) {
		return nil, nil
	}
	m, err := loadMember(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	for _, pc := range m.pieces {
		if !pc.Boxed() {
			continue
		}
		b, err := tx.Boxes().Get(ctx, *pc.BoxID)
		if err != nil {
			return nil, err
		}
		if !b.AllowsAgentCode(code) {
			return nil, mismatch(b, p.TrackingNumber)
		}
	}

	ch, err := loadChain(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if len(ch.Members) > 1 && !ch.ConsistentWith(code, p.ID) {
		if err := c.rechain(ctx, tx, actor, p, c.newToken()); err != nil {
			return nil, err
		}
	}
	return c.engine.SetAgentCode(ctx, tx, actor, p, code)
}

// MoveToPacked packs parcels together: they get one fresh chain token and move to repacked.
// All parcels must share an agent code; a multi-piece parcel can only be packed alone.
func (c *Consolidator) MoveToPacked(ctx context.Context, tx store.Tx, actor models.Actor, parcelIDs []int64) (string, []jobs.Job, error) {
	if len(parcelIDs) == 0 {
		return "", nil, apperr.ErrInvalidArgument.New("no parcels to pack")
	}
	var ms []member
	seen := map[int64]bool{}
	for _, id := range parcelIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := c.liveParcel(ctx, tx, id)
		if err != nil {
			return "", nil, err
		}
		m, err := loadMember(ctx, tx, p)
		if err != nil {
			return "", nil, err
		}
		ms = append(ms, m)
	}

	code := ms[0].parcel.AgentCode
	var tns []string
	mixed := false
	for _, m := range ms {
		tns = append(tns, m.parcel.TrackingNumber)
		if !sameCode(m.parcel.AgentCode, code) {
			mixed = true
		}
		if !m.single() && len(ms) > 1 {
			return "", nil, apperr.ErrMultiPieceChain.
				New("parcel %s has %d pieces", m.parcel.TrackingNumber, len(m.pieces)).
				WithTrackingNumbers(m.parcel.TrackingNumber)
		}
		for _, pc := range m.pieces {
			if pc.Boxed() {
				return "", nil, apperr.ErrAlreadyBoxed.New("parcel %s has boxed pieces", m.parcel.TrackingNumber).
					WithTrackingNumbers(m.parcel.TrackingNumber)
			}
		}
	}
	if err := onHold(parcelsOf(ms)...); err != nil {
		return "", nil, err
	}
	if mixed {
		return "", nil, apperr.ErrInvalidAgentCodeForChain.New("parcels carry different agent codes").WithTrackingNumbers(tns...)
	}
	if code == nil {
		return "", nil, apperr.ErrAgentCodeRequired.New("parcels have no agent code").WithTrackingNumbers(tns...)
	}

	token := c.newToken()
	var out []jobs.Job
	for _, m := range ms {
		m.parcel.Chain = token
		js, err := c.engine.MoveToStatus(ctx, tx, actor, m.parcel, status.Repacked)
		if err != nil {
			return "", nil, err
		}
		if len(js) == 0 {
			if err := c.touch(ctx, tx, m.parcel); err != nil {
				return "", nil, err
			}
		}
		out = append(out, js...)
	}
	if err := c.record(ctx, tx, actor, audit.ParcelsPacked{ParcelIDs: idsOf(ms), Chain: token}); err != nil {
		return "", nil, err
	}
	return token, out, nil
}

// SetPieceCount splits the parcel into n pieces, or merges pieces back. A parcel with several
// pieces leaves any shared chain.
func (c *Consolidator) SetPieceCount(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, n int) error {
	if n < 1 {
		return apperr.ErrInvalidArgument.New("piece count %d is below 1", n)
	}
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return err
	}
	m, err := loadMember(ctx, tx, p)
	if err != nil {
		return err
	}
	cur := len(m.pieces)
	if cur == n {
		return nil
	}
	for _, pc := range m.pieces {
		if pc.Boxed() {
			return apperr.ErrAlreadyBoxed.New("parcel %s has boxed pieces", p.TrackingNumber).
				WithTrackingNumbers(p.TrackingNumber).WithIDs(pc.ID)
		}
	}

	now := c.now()
	for i := cur; i < n; i++ {
		if err := tx.Pieces().Create(ctx, &models.Piece{ParcelID: p.ID, Number: i + 1, CreatedAt: now}); err != nil {
			return errors.Wrap(err, "create piece")
		}
	}
	for i := n; i < cur; i++ {
		if err := tx.Pieces().Delete(ctx, m.pieces[i].ID); err != nil {
			return errors.Wrap(err, "delete piece")
		}
	}

	if n > 1 {
		ch, err := loadChain(ctx, tx, p)
		if err != nil {
			return err
		}
		if len(ch.Members) > 1 {
			if err := c.rechain(ctx, tx, actor, p, c.newToken()); err != nil {
				return err
			}
		}
	}
	return c.record(ctx, tx, actor, audit.ParcelPiecesSplit{ParcelID: p.ID, From: cur, To: n})
}

// DeleteParcel soft-deletes a parcel none of whose pieces sit in a box.
func (c *Consolidator) DeleteParcel(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64) error {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return err
	}
	m, err := loadMember(ctx, tx, p)
	if err != nil {
		return err
	}
	for _, pc := range m.pieces {
		if pc.Boxed() {
			return apperr.ErrParcelHasBoxedPieces.New("parcel %s has pieces in box %d", p.TrackingNumber, *pc.BoxID).
				WithTrackingNumbers(p.TrackingNumber).WithIDs(pc.ID)
		}
	}
	at := c.now()
	p.DeletedAt = &at
	if err := c.touch(ctx, tx, p); err != nil {
		return err
	}
	return c.record(ctx, tx, actor, audit.ParcelDeleted{ParcelID: p.ID, TrackingNumber: p.TrackingNumber})
}

// SetHoldState updates the packing state of a parcel; returnProduct also flags the return.
func (c *Consolidator) SetHoldState(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, state models.HoldState) error {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return err
	}
	return c.setHold(ctx, tx, actor, p, state)
}

func (c *Consolidator) setHold(ctx context.Context, tx store.Tx, actor models.Actor, p *models.Parcel, state models.HoldState) error {
	switch state {
	case models.HoldStateNone, models.HoldStateHold, models.HoldStateProcessed, models.HoldStateReturnProduct:
	default:
		return apperr.ErrInvalidArgument.New("unknown hold state %q", state)
	}
	if p.HoldState == state && (state != models.HoldStateReturnProduct || p.ReturnRequested) {
		return nil
	}
	from := p.HoldState
	p.HoldState = state
	if state == models.HoldStateReturnProduct {
		p.ReturnRequested = true
	}
	if err := c.touch(ctx, tx, p); err != nil {
		return err
	}
	return c.record(ctx, tx, actor, audit.ParcelHoldStateChanged{ParcelID: p.ID, From: string(from), To: string(state)})
}

// FlagBrokenProduct marks the parcel as damaged and requests the intake video around the moment
// it was received (or flagged, when it never went through intake).
func (c *Consolidator) FlagBrokenProduct(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, description, cameraChannel string) ([]jobs.Job, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperr.ErrInvalidArgument.New("description is empty")
	}
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	p.BrokenProduct = models.BrokenProduct{Description: &description, FlaggedAt: &now}
	if err := c.touch(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := c.record(ctx, tx, actor, audit.BrokenProductFlagged{ParcelID: p.ID, Description: description}); err != nil {
		return nil, err
	}

	anchor := now
	if p.ReceivedAtUSAt != nil {
		anchor = *p.ReceivedAtUSAt
	}
	return []jobs.Job{jobs.NewVideoExtraction(videoWindow(p.ID, anchor, cameraChannel))}, nil
}

func videoWindow(parcelID int64, anchor time.Time, channel string) jobs.VideoExtraction {
	return jobs.VideoExtraction{
		TrackingID:    parcelID,
		StartTime:     anchor.Add(-videoLeadIn),
		EndTime:       anchor.Add(videoLeadOut),
		CameraChannel: channel,
	}
}

func (c *Consolidator) RecordBrokenProductFeedback(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, feedback string) error {
	p, err := c.flagged(ctx, tx, parcelID)
	if err != nil {
		return err
	}
	feedback = strings.TrimSpace(feedback)
	if p.BrokenProduct.CustomerFeedback != nil && *p.BrokenProduct.CustomerFeedback == feedback {
		return nil
	}
	p.BrokenProduct.CustomerFeedback = &feedback
	if err := c.touch(ctx, tx, p); err != nil {
		return err
	}
	return c.record(ctx, tx, actor, audit.BrokenProductFeedbackRecorded{ParcelID: p.ID, Feedback: feedback})
}

func (c *Consolidator) CheckBrokenProduct(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64) error {
	p, err := c.flagged(ctx, tx, parcelID)
	if err != nil {
		return err
	}
	if p.BrokenProduct.CheckedAt != nil {
		return nil
	}
	at := c.now()
	p.BrokenProduct.CheckedAt = &at
	if err := c.touch(ctx, tx, p); err != nil {
		return err
	}
	return c.record(ctx, tx, actor, audit.BrokenProductChecked{ParcelID: p.ID})
}

func (c *Consolidator) flagged(ctx context.Context, tx store.Tx, parcelID int64) (*models.Parcel, error) {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	if p.BrokenProduct.FlaggedAt == nil {
		return nil, apperr.ErrInvalidArgument.New("parcel %s is not flagged as broken", p.TrackingNumber).
			WithTrackingNumbers(p.TrackingNumber)
	}
	return p, nil
}
