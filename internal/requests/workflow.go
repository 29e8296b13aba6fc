// Package requests manages buyer service requests and their effect on packing.
package requests

import (
	"context"
	"strings"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/consolidation"
	"github.com/BearBump/ParcelBox/internal/matching"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/pkg/errors"
)

type Workflow struct {
	cons *consolidation.Consolidator
	log  *audit.Log
}

func New(cons *consolidation.Consolidator, log *audit.Log) *Workflow {
	return &Workflow{cons: cons, log: log}
}

type CreateInput struct {
	BuyerID         int64
	Type            models.RequestType
	TrackingNumbers []string
	Quantity        int
	Note            string
}

// guard is the write barrier for one request type: a matched parcel in a disqualifying state
// blocks creation.
type guard struct {
	checkHold bool
	maxPower  int // requests are refused once the parcel reaches this power
	tooLate   *apperr.Error
}

var guards = map[models.RequestType]guard{
	models.RequestSpecialRequest: {checkHold: true, maxPower: status.Repacked.Power(), tooLate: apperr.ErrTrackingItemsAreAlreadyRepacked},
	models.RequestQuantityCheck:  {checkHold: true, maxPower: status.Repacked.Power(), tooLate: apperr.ErrTrackingItemsAreAlreadyRepacked},
	models.RequestHoldTracking:   {checkHold: true, maxPower: status.Boxed.Power(), tooLate: apperr.ErrTrackingItemsAreAlreadyBoxed},
	models.RequestReturnTracking: {checkHold: true, maxPower: status.Boxed.Power(), tooLate: apperr.ErrTrackingItemsAreAlreadyBoxed},
}

// CreateRequests creates one request per tracking number. A non-admin buyer pays one
// packing-request credit per specialRequest.
func (w *Workflow) CreateRequests(ctx context.Context, tx store.Tx, actor models.Actor, in CreateInput) ([]*models.BuyerRequest, error) {
	if !in.Type.Valid() {
		return nil, apperr.ErrInvalidArgument.New("unknown request type %q", in.Type)
	}
	if in.Quantity < 0 {
		return nil, apperr.ErrInvalidArgument.New("quantity %d is negative", in.Quantity)
	}
	tns := dedupe(in.TrackingNumbers)
	if len(tns) == 0 {
		return nil, apperr.ErrInvalidArgument.New("no tracking numbers")
	}
	buyer, err := tx.Buyers().Get(ctx, in.BuyerID)
	if err != nil {
		return nil, err
	}

	matched := make(map[string][]*models.Parcel, len(tns))
	for _, tn := range tns {
		ps, err := w.cons.ResolveAll(ctx, tx, tn)
		if err != nil {
			return nil, err
		}
		matched[tn] = ps
	}
	if err := checkGuard(ctx, tx, in.Type, tns, matched); err != nil {
		return nil, err
	}

	paid := in.Type == models.RequestSpecialRequest && !buyer.IsAdmin
	if paid && buyer.PackingRequestLeft < len(tns) {
		return nil, apperr.ErrInsufficientPackingRequestCredit.
			New("buyer %d has %d credits, %d needed", buyer.ID, buyer.PackingRequestLeft, len(tns)).
			WithTrackingNumbers(tns...).WithIDs(buyer.ID)
	}

	now := w.cons.Now()
	out := make([]*models.BuyerRequest, 0, len(tns))
	for _, tn := range tns {
		r := &models.BuyerRequest{
			BuyerID:        buyer.ID,
			TrackingNumber: tn,
			Type:           in.Type,
			Quantity:       in.Quantity,
			Note:           strings.TrimSpace(in.Note),
			CreatedAt:      now,
		}
		if isHoldType(in.Type) {
			r.PackingRequestState = models.PackingRequestHold
		}
		if err := tx.Requests().Create(ctx, r); err != nil {
			return nil, errors.Wrap(err, "create request")
		}
		if err := w.log.Record(ctx, tx.Events(), actor, audit.RequestCreated{
			RequestID:      r.ID,
			BuyerID:        buyer.ID,
			TrackingNumber: tn,
			Type:           string(in.Type),
			ParcelIDs:      parcelIDs(matched[tn]),
		}); err != nil {
			return nil, err
		}
		if paid {
			if err := w.adjustCredit(ctx, tx, actor, buyer, r.ID, -1); err != nil {
				return nil, err
			}
		}
		if err := w.applyHold(ctx, tx, actor, in.Type, matched[tn]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func checkGuard(ctx context.Context, tx store.Tx, t models.RequestType, tns []string, matched map[string][]*models.Parcel) error {
	g, ok := guards[t]
	if !ok {
		return nil
	}
	var held, late []string
	for _, tn := range tns {
		for _, p := range matched[tn] {
			if g.checkHold && p.Held() {
				held = append(held, tn)
				break
			}
			power, err := packingPower(ctx, tx, p)
			if err != nil {
				return err
			}
			if power >= g.maxPower {
				late = append(late, tn)
				break
			}
		}
	}
	if len(held) > 0 {
		return apperr.ErrTrackingItemsAreBeingHold.New("tracking items are on hold").WithTrackingNumbers(held...)
	}
	if len(late) > 0 {
		return g.tooLate.New("tracking items are too far in processing").WithTrackingNumbers(late...)
	}
	return nil
}

// packingPower is the parcel's status power, raised to boxed when all of its pieces are in boxes.
// A multi-piece parcel stays repacked while its pieces are boxed one by one.
func packingPower(ctx context.Context, tx store.Tx, p *models.Parcel) (int, error) {
	power := status.Of(p).Power()
	if power >= status.Boxed.Power() {
		return power, nil
	}
	pieces, err := tx.Pieces().ListByParcel(ctx, p.ID)
	if err != nil {
		return 0, errors.Wrap(err, "list pieces")
	}
	if len(pieces) == 0 {
		return power, nil
	}
	for _, pc := range pieces {
		if !pc.Boxed() {
			return power, nil
		}
	}
	return status.Boxed.Power(), nil
}

func (w *Workflow) applyHold(ctx context.Context, tx store.Tx, actor models.Actor, t models.RequestType, ps []*models.Parcel) error {
	if !isHoldType(t) {
		return nil
	}
	for _, p := range ps {
		if err := w.cons.SetHoldState(ctx, tx, actor, p.ID, models.HoldStateHold); err != nil {
			return err
		}
		if t == models.RequestReturnTracking {
			if err := w.cons.SetHoldState(ctx, tx, actor, p.ID, models.HoldStateReturnProduct); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubmitActualQuantity records the counted quantity of a quantityCheck request. A mismatch puts
// the request and the matched parcels on hold, a match marks them processed.
func (w *Workflow) SubmitActualQuantity(ctx context.Context, tx store.Tx, actor models.Actor, requestID int64, actual int) error {
	if actual < 0 {
		return apperr.ErrInvalidArgument.New("actual quantity %d is negative", actual)
	}
	r, err := w.liveRequest(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if r.Type != models.RequestQuantityCheck {
		return apperr.ErrRequestTypeMismatch.New("request %d is %s", r.ID, r.Type).
			WithTrackingNumbers(r.TrackingNumber).WithIDs(r.ID)
	}

	mismatch := actual != r.Quantity
	state, hold := models.PackingRequestProcessed, models.HoldStateProcessed
	if mismatch {
		state, hold = models.PackingRequestHold, models.HoldStateHold
	}
	r.ActualQuantity = &actual
	r.PackingRequestState = state
	if err := tx.Requests().Update(ctx, r); err != nil {
		return errors.Wrap(err, "update request")
	}

	ps, err := w.cons.ResolveAll(ctx, tx, r.TrackingNumber)
	if err != nil {
		return err
	}
	for _, p := range ps {
		// возврат важнее результата пересчёта
		if p.HoldState == models.HoldStateReturnProduct {
			continue
		}
		if err := w.cons.SetHoldState(ctx, tx, actor, p.ID, hold); err != nil {
			return err
		}
	}
	return w.log.Record(ctx, tx.Events(), actor, audit.RequestQuantityChecked{
		RequestID: r.ID,
		ParcelIDs: parcelIDs(ps),
		Expected:  r.Quantity,
		Actual:    actual,
		Mismatch:  mismatch,
	})
}

// DeleteRequests soft-deletes requests. A specialRequest credit comes back only while no matched
// parcel has been photographed or boxed; deleting a hold releases parcels still on plain hold.
func (w *Workflow) DeleteRequests(ctx context.Context, tx store.Tx, actor models.Actor, ids ...int64) error {
	if len(ids) == 0 {
		return apperr.ErrInvalidArgument.New("no requests to delete")
	}
	for _, id := range ids {
		if err := w.deleteRequest(ctx, tx, actor, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) deleteRequest(ctx context.Context, tx store.Tx, actor models.Actor, id int64) error {
	r, err := w.liveRequest(ctx, tx, id)
	if err != nil {
		return err
	}
	at := w.cons.Now()
	r.DeletedAt = &at
	if err := tx.Requests().Update(ctx, r); err != nil {
		return errors.Wrap(err, "update request")
	}

	ps, err := w.cons.ResolveAll(ctx, tx, r.TrackingNumber)
	if err != nil {
		return err
	}

	refunded := false
	if r.Type == models.RequestSpecialRequest {
		buyer, err := tx.Buyers().Get(ctx, r.BuyerID)
		if err != nil {
			return err
		}
		fulfilled, err := anyFulfilled(ctx, tx, ps)
		if err != nil {
			return err
		}
		if !buyer.IsAdmin && !fulfilled {
			if err := w.adjustCredit(ctx, tx, actor, buyer, r.ID, 1); err != nil {
				return err
			}
			refunded = true
		}
	}

	if isHoldType(r.Type) {
		for _, p := range ps {
			if p.HoldState != models.HoldStateHold {
				continue
			}
			covered, err := stillHeld(ctx, tx, p)
			if err != nil {
				return err
			}
			if covered {
				continue
			}
			if err := w.cons.SetHoldState(ctx, tx, actor, p.ID, models.HoldStateNone); err != nil {
				return err
			}
		}
	}

	return w.log.Record(ctx, tx.Events(), actor, audit.RequestDeleted{RequestID: r.ID, BuyerID: r.BuyerID, Refunded: refunded})
}

func isHoldType(t models.RequestType) bool {
	return t == models.RequestHoldTracking || t == models.RequestReturnTracking
}

// stillHeld reports whether another live request still keeps p on hold (a hold or return
// request, or a quantity check that found a mismatch).
func stillHeld(ctx context.Context, tx store.Tx, p *models.Parcel) (bool, error) {
	ref := ""
	if p.AlternativeRef != nil {
		ref = matching.Normalize(*p.AlternativeRef)
	}
	rs, err := tx.Requests().ListLive(ctx, matching.Key(p.TrackingNumber), ref)
	if err != nil {
		return false, errors.Wrap(err, "list requests")
	}
	for _, r := range rs {
		if r.PackingRequestState == models.PackingRequestHold {
			return true, nil
		}
	}
	return false, nil
}

// anyFulfilled reports whether work already happened on one of the parcels.
func anyFulfilled(ctx context.Context, tx store.Tx, ps []*models.Parcel) (bool, error) {
	for _, p := range ps {
		if p.ImageCount > 0 || p.BoxedAt != nil || status.Of(p).Power() >= status.Boxed.Power() {
			return true, nil
		}
		pieces, err := tx.Pieces().ListByParcel(ctx, p.ID)
		if err != nil {
			return false, errors.Wrap(err, "list pieces")
		}
		for _, pc := range pieces {
			if pc.Boxed() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (w *Workflow) adjustCredit(ctx context.Context, tx store.Tx, actor models.Actor, b *models.Buyer, requestID int64, delta int) error {
	b.PackingRequestLeft += delta
	if err := tx.Buyers().Update(ctx, b); err != nil {
		return errors.Wrap(err, "update buyer")
	}
	return w.log.Record(ctx, tx.Events(), actor, audit.BuyerCreditChanged{
		BuyerID: b.ID, RequestID: requestID, Delta: delta, Balance: b.PackingRequestLeft,
	})
}

func (w *Workflow) liveRequest(ctx context.Context, tx store.Tx, id int64) (*models.BuyerRequest, error) {
	r, err := tx.Requests().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.DeletedAt != nil {
		return nil, apperr.NotFound("request", id)
	}
	return r, nil
}

func dedupe(tns []string) []string {
	out := make([]string, 0, len(tns))
	seen := map[string]bool{}
	for _, tn := range tns {
		tn = strings.TrimSpace(tn)
		k := matching.Key(tn)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, tn)
	}
	return out
}

func parcelIDs(ps []*models.Parcel) []int64 {
	out := make([]int64, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
