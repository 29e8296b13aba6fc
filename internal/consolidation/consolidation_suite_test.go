package consolidation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/storage/memstore"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/stretchr/testify/suite"
)

type ConsolidatorSuite struct {
	suite.Suite
	ctx   context.Context
	st    *memstore.Store
	c     *Consolidator
	now   time.Time
	actor models.Actor
	seq   int
}

func TestConsolidatorSuite(t *testing.T) {
	suite.Run(t, new(ConsolidatorSuite))
}

func (s *ConsolidatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.st = memstore.New()
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	log := audit.NewLog(clock)
	s.c = New(status.NewEngine(log, clock), log)
	s.actor = models.Actor{Kind: models.ActorUser, ID: "staff"}
	s.seq = 0
}

func (s *ConsolidatorSuite) tx(fn func(tx store.Tx) error) error {
	return s.st.WithinTx(s.ctx, func(ctx context.Context, tx store.Tx) error { return fn(tx) })
}

func (s *ConsolidatorSuite) must(fn func(tx store.Tx) error) {
	s.Require().NoError(s.tx(fn))
}

// repacked registers a parcel, scans it, assigns code and packs it alone.
func (s *ConsolidatorSuite) repacked(code string) *models.Parcel {
	s.seq++
	tn := fmt.Sprintf("TN%010d", s.seq)
	var id int64
	s.must(func(tx store.Tx) error {
		p, _, err := s.c.RegisterParcel(s.ctx, tx, s.actor, models.ParcelCreateInput{TrackingNumber: tn, Quantity: 1})
		if err != nil {
			return err
		}
		id = p.ID
		if _, _, err := s.c.ApplyWarehouseScan(s.ctx, tx, s.actor, WarehouseScan{TrackingNumber: tn, ImageCount: 2}); err != nil {
			return err
		}
		if _, err := s.c.AssignAgentCode(s.ctx, tx, s.actor, id, &code); err != nil {
			return err
		}
		_, _, err = s.c.MoveToPacked(s.ctx, tx, s.actor, []int64{id})
		return err
	})
	return s.st.Parcel(id)
}

func (s *ConsolidatorSuite) pack(ids ...int64) string {
	var token string
	s.must(func(tx store.Tx) error {
		var err error
		token, _, err = s.c.MoveToPacked(s.ctx, tx, s.actor, ids)
		return err
	})
	return token
}

func (s *ConsolidatorSuite) box(codes ...string) *models.Box {
	var b *models.Box
	s.must(func(tx store.Tx) error {
		l, err := s.c.CreateLot(s.ctx, tx, s.actor)
		if err != nil {
			return err
		}
		b, err = s.c.CreateBox(s.ctx, tx, s.actor, BoxInput{LotID: l.ID, Label: "B", AllowedAgentCodes: codes})
		return err
	})
	return b
}

func (s *ConsolidatorSuite) piecesOf(parcelID int64) []*models.Piece {
	var out []*models.Piece
	s.must(func(tx store.Tx) error {
		var err error
		out, err = tx.Pieces().ListByParcel(s.ctx, parcelID)
		return err
	})
	return out
}

func (s *ConsolidatorSuite) statusOf(id int64) status.Status {
	return status.Of(s.st.Parcel(id))
}

func (s *ConsolidatorSuite) addToBox(parcelID int64, pieceID *int64, boxID int64) ([]jobs.Job, error) {
	var out []jobs.Job
	err := s.tx(func(tx store.Tx) error {
		var err error
		out, err = s.c.AddPieceToBox(s.ctx, tx, s.actor, parcelID, pieceID, boxID)
		return err
	})
	return out, err
}

func (s *ConsolidatorSuite) TestRegisterAndScan() {
	var id int64
	s.must(func(tx store.Tx) error {
		p, js, err := s.c.RegisterParcel(s.ctx, tx, s.actor, models.ParcelCreateInput{TrackingNumber: "420902109400111899223197428490"})
		s.Require().NoError(err)
		s.Require().Len(js, 1)
		id = p.ID
		return nil
	})
	s.Equal(status.Registered, s.statusOf(id))
	s.Len(s.piecesOf(id), 1)

	s.must(func(tx store.Tx) error {
		p, js, err := s.c.ApplyWarehouseScan(s.ctx, tx, s.actor, WarehouseScan{TrackingNumber: "9400111899223197428490", ImageCount: 3})
		s.Require().NoError(err)
		s.Equal(id, p.ID)
		s.Require().Len(js, 1)
		su := js[0].Payload.(jobs.StatusUpdate)
		s.Equal("receivedAtUSWarehouse", su.Status)
		s.Equal(sheetOriginScan, *su.SheetOrigin)
		return nil
	})
	s.Equal(status.ReceivedAtUSWarehouse, s.statusOf(id))
	s.Equal(3, s.st.Parcel(id).ImageCount)
}

func (s *ConsolidatorSuite) TestScanUnknownCreatesParcel() {
	var id int64
	s.must(func(tx store.Tx) error {
		p, _, err := s.c.ApplyWarehouseScan(s.ctx, tx, s.actor, WarehouseScan{TrackingNumber: "NEW-1"})
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	s.Equal(status.ReceivedAtUSWarehouse, s.statusOf(id))
	s.Len(s.piecesOf(id), 1)
}

// Two packed parcels box and unbox together.
func (s *ConsolidatorSuite) TestChainBoxAndUnbox() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	token := s.pack(p1.ID, p2.ID)
	s.Equal(token, s.st.Parcel(p1.ID).Chain)
	s.Equal(token, s.st.Parcel(p2.ID).Chain)

	b := s.box("DC")
	js, err := s.addToBox(p1.ID, nil, b.ID)
	s.Require().NoError(err)
	s.Len(js, 2)
	s.Equal(status.Boxed, s.statusOf(p1.ID))
	s.Equal(status.Boxed, s.statusOf(p2.ID))
	s.Equal(b.ID, *s.piecesOf(p2.ID)[0].BoxID)

	pieceID := s.piecesOf(p1.ID)[0].ID
	s.must(func(tx store.Tx) error {
		js, err := s.c.RemovePieceFromBox(s.ctx, tx, s.actor, pieceID)
		s.Len(js, 2)
		return err
	})
	s.Equal(status.Repacked, s.statusOf(p1.ID))
	s.Equal(status.Repacked, s.statusOf(p2.ID))
	s.Nil(s.piecesOf(p2.ID)[0].BoxID)
	s.Nil(s.st.Parcel(p2.ID).BoxedAt)
}

func (s *ConsolidatorSuite) TestAgentCodeMismatchLeavesNoTrace() {
	p := s.repacked("HNC")
	b := s.box("DC")
	events := len(s.st.Events())

	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrAgentCodeMismatch)
	s.Equal(apperr.KindConsistency, apperr.KindOf(err))
	s.Equal(status.Repacked, s.statusOf(p.ID))
	s.Nil(s.piecesOf(p.ID)[0].BoxID)
	s.Len(s.st.Events(), events)
}

func (s *ConsolidatorSuite) TestChainMemberMismatchRejectsWholeChain() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	s.pack(p1.ID, p2.ID)
	b := s.box("DC")

	// рассинхрон цепочки, который чинится только отчётом
	s.must(func(tx store.Tx) error {
		p, err := tx.Parcels().Get(s.ctx, p2.ID)
		if err != nil {
			return err
		}
		code := "HNC"
		p.AgentCode = &code
		return tx.Parcels().Update(s.ctx, p)
	})

	_, err := s.addToBox(p1.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrAgentCodeMismatch)
	var ae *apperr.Error
	s.Require().ErrorAs(err, &ae)
	s.Equal([]string{p2.TrackingNumber}, ae.TrackingNumbers)
	s.Equal(status.Repacked, s.statusOf(p1.ID))

	var reports []ChainReport
	s.must(func(tx store.Tx) error {
		var err error
		reports, err = s.c.InconsistentChains(s.ctx, tx)
		return err
	})
	s.Require().Len(reports, 1)
	s.ElementsMatch([]int64{p1.ID, p2.ID}, reports[0].ParcelIDs)
}

func (s *ConsolidatorSuite) TestAlreadyBoxed() {
	p := s.repacked("DC")
	b := s.box()
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().NoError(err)
	_, err = s.addToBox(p.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrAlreadyBoxed)
}

func (s *ConsolidatorSuite) TestMultiPieceBoxing() {
	p := s.repacked("DC")
	s.must(func(tx store.Tx) error { return s.c.SetPieceCount(s.ctx, tx, s.actor, p.ID, 3) })
	pieces := s.piecesOf(p.ID)
	s.Require().Len(pieces, 3)
	s.Equal(3, pieces[2].Number)

	b := s.box("DC")
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrPieceIDRequired)

	js, err := s.addToBox(p.ID, &pieces[1].ID, b.ID)
	s.Require().NoError(err)
	s.Empty(js)
	s.Equal(status.Repacked, s.statusOf(p.ID))
	s.Equal(b.ID, *s.piecesOf(p.ID)[1].BoxID)
	s.Nil(s.piecesOf(p.ID)[0].BoxID)

	err = s.tx(func(tx store.Tx) error { return s.c.SetPieceCount(s.ctx, tx, s.actor, p.ID, 1) })
	s.Require().ErrorIs(err, apperr.ErrAlreadyBoxed)
}

func (s *ConsolidatorSuite) TestMergeIntoChain() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	p3 := s.repacked("HNC")

	s.must(func(tx store.Tx) error {
		token, err := s.c.MergeIntoChain(s.ctx, tx, s.actor, p2.ID, p1.Chain)
		s.Equal(p1.Chain, token)
		return err
	})
	s.Equal(p1.Chain, s.st.Parcel(p2.ID).Chain)

	err := s.tx(func(tx store.Tx) error {
		_, err := s.c.MergeIntoChain(s.ctx, tx, s.actor, p3.ID, p1.Chain)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrInvalidAgentCodeForChain)

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.MergeIntoChain(s.ctx, tx, s.actor, p3.ID, "no-such-chain")
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrInvalidAgentCodeForChain)

	s.must(func(tx store.Tx) error {
		token, err := s.c.MergeIntoChain(s.ctx, tx, s.actor, p3.ID, "")
		s.NotEmpty(token)
		s.NotEqual(p3.Chain, token)
		return err
	})
}

func (s *ConsolidatorSuite) TestSplitFromChain() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	token := s.pack(p1.ID, p2.ID)
	b := s.box("DC")
	_, err := s.addToBox(p1.ID, nil, b.ID)
	s.Require().NoError(err)

	s.must(func(tx store.Tx) error {
		_, err := s.c.SplitFromChain(s.ctx, tx, s.actor, p2.ID)
		return err
	})
	s.Equal(status.Repacked, s.statusOf(p2.ID))
	s.NotEqual(token, s.st.Parcel(p2.ID).Chain)
	s.Nil(s.piecesOf(p2.ID)[0].BoxID)
	s.Equal(status.Boxed, s.statusOf(p1.ID))

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.SplitFromChain(s.ctx, tx, s.actor, p2.ID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrInvalidSplit)
}

func (s *ConsolidatorSuite) TestMoveToNewBoxTakesWholeChain() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	s.pack(p1.ID, p2.ID)
	src := s.box("DC")
	_, err := s.addToBox(p1.ID, nil, src.ID)
	s.Require().NoError(err)

	wrong := s.box("HNC")
	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.MoveToNewBox(s.ctx, tx, s.actor, []int64{s.piecesOf(p1.ID)[0].ID}, wrong.ID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrAgentCodeMismatch)
	s.Equal(src.ID, *s.piecesOf(p2.ID)[0].BoxID)

	dest := s.box("DC")
	s.must(func(tx store.Tx) error {
		_, err := s.c.MoveToNewBox(s.ctx, tx, s.actor, []int64{s.piecesOf(p1.ID)[0].ID}, dest.ID)
		return err
	})
	s.Equal(dest.ID, *s.piecesOf(p1.ID)[0].BoxID)
	s.Equal(dest.ID, *s.piecesOf(p2.ID)[0].BoxID)
	s.Equal(status.Boxed, s.statusOf(p2.ID))
}

func (s *ConsolidatorSuite) TestDeleteBoxRevertsBoxedParcels() {
	p := s.repacked("DC")
	b := s.box("DC")
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().NoError(err)

	s.must(func(tx store.Tx) error {
		_, err := s.c.DeleteBox(s.ctx, tx, s.actor, b.ID)
		return err
	})
	s.Equal(status.Repacked, s.statusOf(p.ID))
	s.Nil(s.piecesOf(p.ID)[0].BoxID)
	s.Nil(s.piecesOf(p.ID)[0].BoxedAt)
}

func (s *ConsolidatorSuite) TestDeleteBoxKeepsProgressedStatus() {
	p := s.repacked("DC")
	b := s.box("DC")
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().NoError(err)
	s.must(func(tx store.Tx) error {
		pp, err := tx.Parcels().Get(s.ctx, p.ID)
		if err != nil {
			return err
		}
		_, err = s.c.engine.MoveToStatus(s.ctx, tx, s.actor, pp, status.FlyingBack)
		return err
	})

	s.must(func(tx store.Tx) error {
		_, err := s.c.DeleteBox(s.ctx, tx, s.actor, b.ID)
		return err
	})
	got := s.st.Parcel(p.ID)
	s.Equal(status.FlyingBack, status.Of(got))
	s.Nil(got.BoxedAt)
	s.Equal(audit.KindBoxDeleted, s.st.Events()[len(s.st.Events())-1].Kind)
}

func (s *ConsolidatorSuite) TestShipmentFlow() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	s.must(func(tx store.Tx) error { return s.c.SetPieceCount(s.ctx, tx, s.actor, p2.ID, 2) })

	var shipmentID int64
	b := s.box("DC")
	s.must(func(tx store.Tx) error {
		sh, err := s.c.CreateShipment(s.ctx, tx, s.actor)
		if err != nil {
			return err
		}
		shipmentID = sh.ID
		return s.c.AttachBoxToShipment(s.ctx, tx, s.actor, b.ID, sh.ID)
	})
	_, err := s.addToBox(p1.ID, nil, b.ID)
	s.Require().NoError(err)
	for _, pc := range s.piecesOf(p2.ID) {
		_, err := s.addToBox(p2.ID, &pc.ID, b.ID)
		s.Require().NoError(err)
	}

	s.must(func(tx store.Tx) error {
		_, err := s.c.CommitShipment(s.ctx, tx, s.actor, shipmentID)
		return err
	})
	s.Equal(status.FlyingBack, s.statusOf(p1.ID))
	s.Equal(status.FlyingBack, s.statusOf(p2.ID))

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.DeleteBox(s.ctx, tx, s.actor, b.ID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrBoxCommitted)

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.CommitShipment(s.ctx, tx, s.actor, shipmentID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrAlreadyCommitted)

	pieces := s.piecesOf(p2.ID)
	s.must(func(tx store.Tx) error {
		js, err := s.c.ReceivePieceAtVN(s.ctx, tx, s.actor, pieces[0].ID)
		s.Empty(js)
		return err
	})
	s.Equal(status.FlyingBack, s.statusOf(p2.ID))
	s.must(func(tx store.Tx) error {
		js, err := s.c.ReceivePieceAtVN(s.ctx, tx, s.actor, pieces[1].ID)
		s.Require().Len(js, 1)
		s.Equal(2, js[0].Payload.(jobs.StatusUpdate).PieceInfo.Total)
		return err
	})
	s.Equal(status.ReceivedAtVNWarehouse, s.statusOf(p2.ID))
}

func (s *ConsolidatorSuite) TestDeleteParcel() {
	p := s.repacked("DC")
	b := s.box()
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().NoError(err)

	err = s.tx(func(tx store.Tx) error { return s.c.DeleteParcel(s.ctx, tx, s.actor, p.ID) })
	s.Require().ErrorIs(err, apperr.ErrParcelHasBoxedPieces)

	s.must(func(tx store.Tx) error {
		_, err := s.c.RemovePieceFromBox(s.ctx, tx, s.actor, s.piecesOf(p.ID)[0].ID)
		return err
	})
	s.must(func(tx store.Tx) error { return s.c.DeleteParcel(s.ctx, tx, s.actor, p.ID) })
	s.True(s.st.Parcel(p.ID).Deleted())

	err = s.tx(func(tx store.Tx) error { return s.c.DeleteParcel(s.ctx, tx, s.actor, p.ID) })
	s.Require().ErrorIs(err, apperr.ErrNotFound)
}

func (s *ConsolidatorSuite) TestBrokenProductVideoWindow() {
	p := s.repacked("DC")
	received := *s.st.Parcel(p.ID).ReceivedAtUSAt
	s.now = s.now.Add(48 * time.Hour)

	var js []jobs.Job
	s.must(func(tx store.Tx) error {
		var err error
		js, err = s.c.FlagBrokenProduct(s.ctx, tx, s.actor, p.ID, "cracked screen", "cam-3")
		return err
	})
	s.Require().Len(js, 1)
	s.Equal(jobs.KindVideoExtraction, js[0].Kind)
	v := js[0].Payload.(jobs.VideoExtraction)
	s.Equal(received.Add(-5*time.Minute), v.StartTime)
	s.Equal(received.Add(15*time.Minute), v.EndTime)
	s.Equal("cam-3", v.CameraChannel)

	s.must(func(tx store.Tx) error {
		if err := s.c.RecordBrokenProductFeedback(s.ctx, tx, s.actor, p.ID, "wants refund"); err != nil {
			return err
		}
		return s.c.CheckBrokenProduct(s.ctx, tx, s.actor, p.ID)
	})
	got := s.st.Parcel(p.ID).BrokenProduct
	s.Equal("wants refund", *got.CustomerFeedback)
	s.NotNil(got.CheckedAt)
}

func (s *ConsolidatorSuite) TestChangeStatusRefusesBoxedMoves() {
	p := s.repacked("DC")
	err := s.tx(func(tx store.Tx) error {
		_, err := s.c.ChangeStatus(s.ctx, tx, s.actor, p.ID, status.Boxed)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
}

func (s *ConsolidatorSuite) TestAssignAgentCodeLeavesMixedChain() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	token := s.pack(p1.ID, p2.ID)

	code := "HNC"
	s.must(func(tx store.Tx) error {
		_, err := s.c.AssignAgentCode(s.ctx, tx, s.actor, p2.ID, &code)
		return err
	})
	got := s.st.Parcel(p2.ID)
	s.Equal("HNC", *got.AgentCode)
	s.NotEqual(token, got.Chain)
}

func (s *ConsolidatorSuite) setHold(id int64, state models.HoldState) {
	s.must(func(tx store.Tx) error { return s.c.SetHoldState(s.ctx, tx, s.actor, id, state) })
}

func (s *ConsolidatorSuite) TestHoldBlocksPacking() {
	p := s.repacked("DC")
	s.setHold(p.ID, models.HoldStateReturnProduct)
	b := s.box("DC")
	events := len(s.st.Events())

	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrParcelOnHold)
	s.Equal(apperr.KindConsistency, apperr.KindOf(err))
	s.Equal(status.Repacked, s.statusOf(p.ID))
	s.Nil(s.piecesOf(p.ID)[0].BoxID)

	err = s.tx(func(tx store.Tx) error {
		_, _, err := s.c.MoveToPacked(s.ctx, tx, s.actor, []int64{p.ID})
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrParcelOnHold)

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.MoveToNewBox(s.ctx, tx, s.actor, []int64{s.piecesOf(p.ID)[0].ID}, b.ID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrParcelOnHold)
	s.Len(s.st.Events(), events)

	// удержание одного участника цепочки блокирует всю цепочку
	q1 := s.repacked("DC")
	q2 := s.repacked("DC")
	s.pack(q1.ID, q2.ID)
	s.setHold(q2.ID, models.HoldStateHold)
	_, err = s.addToBox(q1.ID, nil, b.ID)
	s.Require().ErrorIs(err, apperr.ErrParcelOnHold)
	var e *apperr.Error
	s.Require().ErrorAs(err, &e)
	s.Equal([]string{s.st.Parcel(q2.ID).TrackingNumber}, e.TrackingNumbers)

	s.setHold(q2.ID, models.HoldStateProcessed)
	_, err = s.addToBox(q1.ID, nil, b.ID)
	s.Require().NoError(err)
	s.Equal(status.Boxed, s.statusOf(q2.ID))
}

func (s *ConsolidatorSuite) TestHoldBlocksShipmentCommit() {
	p := s.repacked("DC")
	b := s.box("DC")
	var shipmentID int64
	s.must(func(tx store.Tx) error {
		sh, err := s.c.CreateShipment(s.ctx, tx, s.actor)
		if err != nil {
			return err
		}
		shipmentID = sh.ID
		return s.c.AttachBoxToShipment(s.ctx, tx, s.actor, b.ID, sh.ID)
	})
	_, err := s.addToBox(p.ID, nil, b.ID)
	s.Require().NoError(err)
	s.setHold(p.ID, models.HoldStateHold)

	err = s.tx(func(tx store.Tx) error {
		_, err := s.c.CommitShipment(s.ctx, tx, s.actor, shipmentID)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrParcelOnHold)
	s.Equal(status.Boxed, s.statusOf(p.ID))
	s.Nil(s.piecesOf(p.ID)[0].FlyingBackAt)

	s.setHold(p.ID, models.HoldStateNone)
	s.must(func(tx store.Tx) error {
		_, err := s.c.CommitShipment(s.ctx, tx, s.actor, shipmentID)
		return err
	})
	s.Equal(status.FlyingBack, s.statusOf(p.ID))
}

func (s *ConsolidatorSuite) TestMergeIntoMultiPieceChainRejected() {
	single := s.repacked("DC")
	multi := s.repacked("DC")
	s.must(func(tx store.Tx) error { return s.c.SetPieceCount(s.ctx, tx, s.actor, multi.ID, 2) })
	token := s.st.Parcel(multi.ID).Chain

	err := s.tx(func(tx store.Tx) error {
		_, err := s.c.MergeIntoChain(s.ctx, tx, s.actor, single.ID, token)
		return err
	})
	s.Require().ErrorIs(err, apperr.ErrMultiPieceChain)
	s.NotEqual(token, s.st.Parcel(single.ID).Chain)
	s.Len(s.piecesOf(multi.ID), 2)
}

// A chain member that already left with a shipment keeps its box and status when its
// partner is unboxed.
func (s *ConsolidatorSuite) TestRemovePieceSkipsProgressedMembers() {
	p1 := s.repacked("DC")
	p2 := s.repacked("DC")
	s.pack(p1.ID, p2.ID)
	b := s.box("DC")
	_, err := s.addToBox(p1.ID, nil, b.ID)
	s.Require().NoError(err)

	s.must(func(tx store.Tx) error {
		p, err := tx.Parcels().Get(s.ctx, p2.ID)
		if err != nil {
			return err
		}
		_, err = s.c.engine.MoveToStatus(s.ctx, tx, s.actor, p, status.FlyingBack)
		return err
	})

	s.must(func(tx store.Tx) error {
		js, err := s.c.RemovePieceFromBox(s.ctx, tx, s.actor, s.piecesOf(p1.ID)[0].ID)
		s.Len(js, 1)
		return err
	})
	s.Equal(status.Repacked, s.statusOf(p1.ID))
	s.Nil(s.piecesOf(p1.ID)[0].BoxID)
	s.Equal(status.FlyingBack, s.statusOf(p2.ID))
	s.Equal(b.ID, *s.piecesOf(p2.ID)[0].BoxID)
}
