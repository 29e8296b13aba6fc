package requests

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/consolidation"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/storage/memstore"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/stretchr/testify/require"
)

type env struct {
	t     *testing.T
	ctx   context.Context
	st    *memstore.Store
	cons  *consolidation.Consolidator
	wf    *Workflow
	actor models.Actor
}

func newEnv(t *testing.T) *env {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := audit.NewLog(clock)
	cons := consolidation.New(status.NewEngine(log, clock), log)
	return &env{
		t:     t,
		ctx:   context.Background(),
		st:    memstore.New(),
		cons:  cons,
		wf:    New(cons, log),
		actor: models.Actor{Kind: models.ActorBuyer, ID: "buyer-7"},
	}
}

func (e *env) tx(fn func(tx store.Tx) error) error {
	return e.st.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error { return fn(tx) })
}

func (e *env) register(tn string) int64 {
	var id int64
	require.NoError(e.t, e.tx(func(tx store.Tx) error {
		p, _, err := e.cons.RegisterParcel(e.ctx, tx, e.actor, models.ParcelCreateInput{TrackingNumber: tn, Quantity: 2})
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	}))
	return id
}

func (e *env) create(in CreateInput) ([]*models.BuyerRequest, error) {
	var out []*models.BuyerRequest
	err := e.tx(func(tx store.Tx) error {
		var err error
		out, err = e.wf.CreateRequests(e.ctx, tx, e.actor, in)
		return err
	})
	return out, err
}

func TestSpecialRequestCreditConservation(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, PackingRequestLeft: 2})
	e.register("TN-A1")

	reqs, err := e.create(CreateInput{
		BuyerID: 1, Type: models.RequestSpecialRequest, TrackingNumbers: []string{"TN-A1", "TN-A2"},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	require.Equal(t, 0, e.st.Buyer(1).PackingRequestLeft)

	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.wf.DeleteRequests(e.ctx, tx, e.actor, reqs[0].ID, reqs[1].ID)
	}))
	require.Equal(t, 2, e.st.Buyer(1).PackingRequestLeft)
	require.NotNil(t, e.st.Request(reqs[0].ID).DeletedAt)
}

func TestSpecialRequestInsufficientCredit(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, PackingRequestLeft: 1})

	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestSpecialRequest, TrackingNumbers: []string{"A", "B"}})
	require.ErrorIs(t, err, apperr.ErrInsufficientPackingRequestCredit)
	require.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
	require.Equal(t, 1, e.st.Buyer(1).PackingRequestLeft)
	require.Empty(t, e.st.Events())
}

func TestSpecialRequestAdminIsFree(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, IsAdmin: true})

	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestSpecialRequest, TrackingNumbers: []string{"A"}})
	require.NoError(t, err)
	require.Equal(t, 0, e.st.Buyer(1).PackingRequestLeft)
}

func TestNoRefundAfterImaging(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, PackingRequestLeft: 1})
	e.register("TN-IMG")

	reqs, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestSpecialRequest, TrackingNumbers: []string{"TN-IMG"}})
	require.NoError(t, err)

	require.NoError(t, e.tx(func(tx store.Tx) error {
		_, _, err := e.cons.ApplyWarehouseScan(e.ctx, tx, e.actor, consolidation.WarehouseScan{TrackingNumber: "tn-img", ImageCount: 1})
		return err
	}))
	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.wf.DeleteRequests(e.ctx, tx, e.actor, reqs[0].ID)
	}))
	require.Equal(t, 0, e.st.Buyer(1).PackingRequestLeft)
}

func TestGuardBeingHold(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, PackingRequestLeft: 5})
	e.register("TN-H")

	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-H"}})
	require.NoError(t, err)

	_, err = e.create(CreateInput{BuyerID: 1, Type: models.RequestSpecialRequest, TrackingNumbers: []string{"TN-H"}})
	require.ErrorIs(t, err, apperr.ErrTrackingItemsAreBeingHold)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, []string{"TN-H"}, ae.TrackingNumbers)
	require.Equal(t, 5, e.st.Buyer(1).PackingRequestLeft)

	_, err = e.create(CreateInput{BuyerID: 1, Type: models.RequestCamera, TrackingNumbers: []string{"TN-H"}})
	require.NoError(t, err)
}

func TestGuardAlreadyRepackedAndBoxed(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1, PackingRequestLeft: 5})
	id := e.register("TN-R")
	code := "DC"
	require.NoError(t, e.tx(func(tx store.Tx) error {
		if _, err := e.cons.AssignAgentCode(e.ctx, tx, e.actor, id, &code); err != nil {
			return err
		}
		_, _, err := e.cons.MoveToPacked(e.ctx, tx, e.actor, []int64{id})
		return err
	}))

	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestQuantityCheck, TrackingNumbers: []string{"TN-R"}, Quantity: 2})
	require.ErrorIs(t, err, apperr.ErrTrackingItemsAreAlreadyRepacked)

	_, err = e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-R"}})
	require.NoError(t, err)

	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.cons.SetHoldState(e.ctx, tx, e.actor, id, models.HoldStateNone)
	}))
	require.NoError(t, e.tx(func(tx store.Tx) error {
		l, err := e.cons.CreateLot(e.ctx, tx, e.actor)
		if err != nil {
			return err
		}
		b, err := e.cons.CreateBox(e.ctx, tx, e.actor, consolidation.BoxInput{LotID: l.ID, Label: "B1"})
		if err != nil {
			return err
		}
		_, err = e.cons.AddPieceToBox(e.ctx, tx, e.actor, id, nil, b.ID)
		return err
	}))
	_, err = e.create(CreateInput{BuyerID: 1, Type: models.RequestReturnTracking, TrackingNumbers: []string{"TN-R"}})
	require.ErrorIs(t, err, apperr.ErrTrackingItemsAreAlreadyBoxed)
}

func TestQuantityCheck(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1})
	id := e.register("TN-Q")

	reqs, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestQuantityCheck, TrackingNumbers: []string{"TN-Q"}, Quantity: 3})
	require.NoError(t, err)

	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.wf.SubmitActualQuantity(e.ctx, tx, e.actor, reqs[0].ID, 2)
	}))
	require.Equal(t, models.HoldStateHold, e.st.Parcel(id).HoldState)
	require.Equal(t, models.PackingRequestHold, e.st.Request(reqs[0].ID).PackingRequestState)

	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.wf.SubmitActualQuantity(e.ctx, tx, e.actor, reqs[0].ID, 3)
	}))
	require.Equal(t, models.HoldStateProcessed, e.st.Parcel(id).HoldState)
	require.Equal(t, models.PackingRequestProcessed, e.st.Request(reqs[0].ID).PackingRequestState)
}

func TestSubmitActualQuantityWrongType(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1})
	reqs, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestCamera, TrackingNumbers: []string{"X"}})
	require.NoError(t, err)

	err = e.tx(func(tx store.Tx) error { return e.wf.SubmitActualQuantity(e.ctx, tx, e.actor, reqs[0].ID, 1) })
	require.ErrorIs(t, err, apperr.ErrRequestTypeMismatch)
}

func TestReturnTrackingAndRelease(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1})
	ret := e.register("TN-RET")
	hold := e.register("TN-HOLD")

	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestReturnTracking, TrackingNumbers: []string{"TN-RET"}})
	require.NoError(t, err)
	p := e.st.Parcel(ret)
	require.Equal(t, models.HoldStateReturnProduct, p.HoldState)
	require.True(t, p.ReturnRequested)

	reqs, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-HOLD"}})
	require.NoError(t, err)
	require.Equal(t, models.HoldStateHold, e.st.Parcel(hold).HoldState)

	require.NoError(t, e.tx(func(tx store.Tx) error { return e.wf.DeleteRequests(e.ctx, tx, e.actor, reqs[0].ID) }))
	require.Equal(t, models.HoldStateNone, e.st.Parcel(hold).HoldState)

	err = e.tx(func(tx store.Tx) error { return e.wf.DeleteRequests(e.ctx, tx, e.actor, reqs[0].ID) })
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGuardMultiPieceParcelFullyBoxed(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1})
	id := e.register("TN-MP")
	code := "DC"
	require.NoError(t, e.tx(func(tx store.Tx) error {
		if _, err := e.cons.AssignAgentCode(e.ctx, tx, e.actor, id, &code); err != nil {
			return err
		}
		if _, _, err := e.cons.MoveToPacked(e.ctx, tx, e.actor, []int64{id}); err != nil {
			return err
		}
		return e.cons.SetPieceCount(e.ctx, tx, e.actor, id, 2)
	}))

	var boxID int64
	require.NoError(t, e.tx(func(tx store.Tx) error {
		l, err := e.cons.CreateLot(e.ctx, tx, e.actor)
		if err != nil {
			return err
		}
		b, err := e.cons.CreateBox(e.ctx, tx, e.actor, consolidation.BoxInput{LotID: l.ID, Label: "B1"})
		if err != nil {
			return err
		}
		boxID = b.ID
		pieces, err := tx.Pieces().ListByParcel(e.ctx, id)
		if err != nil {
			return err
		}
		_, err = e.cons.AddPieceToBox(e.ctx, tx, e.actor, id, &pieces[0].ID, b.ID)
		return err
	}))

	// одна коробка из двух: ещё можно придержать
	_, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-MP"}})
	require.NoError(t, err)
	require.NoError(t, e.tx(func(tx store.Tx) error {
		return e.cons.SetHoldState(e.ctx, tx, e.actor, id, models.HoldStateNone)
	}))

	require.NoError(t, e.tx(func(tx store.Tx) error {
		pieces, err := tx.Pieces().ListByParcel(e.ctx, id)
		if err != nil {
			return err
		}
		_, err = e.cons.AddPieceToBox(e.ctx, tx, e.actor, id, &pieces[1].ID, boxID)
		return err
	}))
	require.Equal(t, status.Repacked, status.Of(e.st.Parcel(id)))

	_, err = e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-MP"}})
	require.ErrorIs(t, err, apperr.ErrTrackingItemsAreAlreadyBoxed)
	require.Equal(t, models.HoldStateNone, e.st.Parcel(id).HoldState)
}

func TestDeleteHoldKeepsHoldOfOtherRequest(t *testing.T) {
	e := newEnv(t)
	e.st.PutBuyer(models.Buyer{ID: 1})

	// запрос пришёл раньше посылки
	early, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"TN-EARLY"}})
	require.NoError(t, err)
	id := e.register("TN-EARLY")
	require.Equal(t, models.HoldStateNone, e.st.Parcel(id).HoldState)

	late, err := e.create(CreateInput{BuyerID: 1, Type: models.RequestHoldTracking, TrackingNumbers: []string{"tn-early"}})
	require.NoError(t, err)
	require.Equal(t, models.HoldStateHold, e.st.Parcel(id).HoldState)

	require.NoError(t, e.tx(func(tx store.Tx) error { return e.wf.DeleteRequests(e.ctx, tx, e.actor, late[0].ID) }))
	require.Equal(t, models.HoldStateHold, e.st.Parcel(id).HoldState)

	require.NoError(t, e.tx(func(tx store.Tx) error { return e.wf.DeleteRequests(e.ctx, tx, e.actor, early[0].ID) }))
	require.Equal(t, models.HoldStateNone, e.st.Parcel(id).HoldState)
}
