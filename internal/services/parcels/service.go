// Package parcels is the application façade over the parcel domain: it opens a transaction per
// command, persists the jobs the command produced into the outbox and keeps the parcel view
// cache coherent.
package parcels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/broker/messages"
	"github.com/BearBump/ParcelBox/internal/cache"
	"github.com/BearBump/ParcelBox/internal/consolidation"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/requests"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type Service struct {
	txm      store.TxManager
	cons     *consolidation.Consolidator
	wf       *requests.Workflow
	log      *audit.Log
	cache    cache.BytesCache
	viewTTL  time.Duration
	validate *validator.Validate
	logger   *slog.Logger
}

func New(txm store.TxManager, cons *consolidation.Consolidator, wf *requests.Workflow, log *audit.Log, c cache.BytesCache, viewTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		txm:      txm,
		cons:     cons,
		wf:       wf,
		log:      log,
		cache:    c,
		viewTTL:  viewTTL,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "parcels"),
	}
}

// ParcelView is the read model of a parcel: its state, derived status and pieces.
type ParcelView struct {
	models.Parcel
	Status string          `json:"status"`
	Pieces []*models.Piece `json:"pieces"`
}

func viewKey(id int64) string {
	return fmt.Sprintf("parcel:%d:view", id)
}

// exec runs fn in one transaction. Jobs returned by fn land in the outbox of the same
// transaction; views of every parcel fn wrote are dropped after commit.
func (s *Service) exec(ctx context.Context, fn func(ctx context.Context, tx store.Tx) ([]jobs.Job, error)) error {
	var touched []int64
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tt := newTrackedTx(tx)
		js, err := fn(ctx, tt)
		if err != nil {
			return err
		}
		if err := jobs.EnqueueAll(ctx, jobs.NewOutboxDispatcher(tx.Outbox(), s.cons.Now), js); err != nil {
			return err
		}
		touched = tt.ids()
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched)
	return nil
}

func (s *Service) invalidate(ctx context.Context, ids []int64) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, viewKey(id))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		// TTL дочистит
		s.logger.Warn("drop parcel views", "err", err, "parcels", ids)
	}
}

func (s *Service) RegisterParcel(ctx context.Context, actor models.Actor, in models.ParcelCreateInput) (*models.Parcel, error) {
	var out *models.Parcel
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		p, js, err := s.cons.RegisterParcel(ctx, tx, actor, in)
		out = p
		return js, err
	})
	return out, err
}

func (s *Service) ApplyWarehouseScan(ctx context.Context, actor models.Actor, msg messages.WarehouseScan) (*models.Parcel, error) {
	if err := s.validate.Struct(msg); err != nil {
		return nil, apperr.ErrInvalidArgument.New("warehouse scan: %v", err).WithTrackingNumbers(msg.TrackingNumber)
	}
	var out *models.Parcel
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		p, js, err := s.cons.ApplyWarehouseScan(ctx, tx, actor, consolidation.WarehouseScan{
			TrackingNumber: msg.TrackingNumber,
			WarehouseID:    msg.WarehouseID,
			ImageCount:     msg.ImageCount,
		})
		out = p
		return js, err
	})
	return out, err
}

// GetParcel serves the view from cache when possible. Cache failures only cost a read.
func (s *Service) GetParcel(ctx context.Context, id int64) (*ParcelView, error) {
	if s.cache != nil && s.viewTTL > 0 {
		b, ok, err := s.cache.Get(ctx, viewKey(id))
		if err == nil && ok {
			var v ParcelView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	var v *ParcelView
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		pieces, err := tx.Pieces().ListByParcel(ctx, id)
		if err != nil {
			return errors.Wrap(err, "list pieces")
		}
		v = &ParcelView{Parcel: *p, Status: status.Of(p).String(), Pieces: pieces}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.viewTTL > 0 {
		if b, err := json.Marshal(v); err == nil {
			if err := s.cache.Set(ctx, viewKey(id), b, s.viewTTL); err != nil {
				s.logger.Warn("cache parcel view", "err", err, "parcel", id)
			}
		}
	}
	return v, nil
}

func (s *Service) Timeline(ctx context.Context, f audit.Filter, limit, offset int) ([]audit.Entry, error) {
	var out []audit.Entry
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.log.Timeline(ctx, tx.Events(), f, limit, offset)
		return err
	})
	return out, err
}

func (s *Service) ChangeStatus(ctx context.Context, actor models.Actor, parcelID int64, statusName string) error {
	target, ok := status.Parse(statusName)
	if !ok {
		return apperr.ErrInvalidArgument.New("unknown status %q", statusName).WithIDs(parcelID)
	}
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.ChangeStatus(ctx, tx, actor, parcelID, target)
	})
}

func (s *Service) AssignAgentCode(ctx context.Context, actor models.Actor, parcelID int64, code *string) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.AssignAgentCode(ctx, tx, actor, parcelID, code)
	})
}

func (s *Service) MergeIntoChain(ctx context.Context, actor models.Actor, parcelID int64, candidate string) (string, error) {
	var token string
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		var err error
		token, err = s.cons.MergeIntoChain(ctx, tx, actor, parcelID, candidate)
		return nil, err
	})
	return token, err
}

func (s *Service) SplitFromChain(ctx context.Context, actor models.Actor, parcelID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.SplitFromChain(ctx, tx, actor, parcelID)
	})
}

func (s *Service) MoveToPacked(ctx context.Context, actor models.Actor, parcelIDs []int64) (string, error) {
	var token string
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		t, js, err := s.cons.MoveToPacked(ctx, tx, actor, parcelIDs)
		token = t
		return js, err
	})
	return token, err
}

func (s *Service) SetPieceCount(ctx context.Context, actor models.Actor, parcelID int64, n int) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.SetPieceCount(ctx, tx, actor, parcelID, n)
	})
}

func (s *Service) SetHoldState(ctx context.Context, actor models.Actor, parcelID int64, state models.HoldState) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.SetHoldState(ctx, tx, actor, parcelID, state)
	})
}

func (s *Service) DeleteParcel(ctx context.Context, actor models.Actor, parcelID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.DeleteParcel(ctx, tx, actor, parcelID)
	})
}

func (s *Service) FlagBrokenProduct(ctx context.Context, actor models.Actor, parcelID int64, description, cameraChannel string) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.FlagBrokenProduct(ctx, tx, actor, parcelID, description, cameraChannel)
	})
}

func (s *Service) RecordBrokenProductFeedback(ctx context.Context, actor models.Actor, parcelID int64, feedback string) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.RecordBrokenProductFeedback(ctx, tx, actor, parcelID, feedback)
	})
}

func (s *Service) CheckBrokenProduct(ctx context.Context, actor models.Actor, parcelID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.CheckBrokenProduct(ctx, tx, actor, parcelID)
	})
}

func (s *Service) CreateLot(ctx context.Context, actor models.Actor) (*models.Lot, error) {
	var out *models.Lot
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		var err error
		out, err = s.cons.CreateLot(ctx, tx, actor)
		return nil, err
	})
	return out, err
}

func (s *Service) CreateShipment(ctx context.Context, actor models.Actor) (*models.Shipment, error) {
	var out *models.Shipment
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		var err error
		out, err = s.cons.CreateShipment(ctx, tx, actor)
		return nil, err
	})
	return out, err
}

func (s *Service) CreateBox(ctx context.Context, actor models.Actor, in consolidation.BoxInput) (*models.Box, error) {
	var out *models.Box
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		var err error
		out, err = s.cons.CreateBox(ctx, tx, actor, in)
		return nil, err
	})
	return out, err
}

func (s *Service) DeleteBox(ctx context.Context, actor models.Actor, boxID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.DeleteBox(ctx, tx, actor, boxID)
	})
}

func (s *Service) AddPieceToBox(ctx context.Context, actor models.Actor, parcelID int64, pieceID *int64, boxID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.AddPieceToBox(ctx, tx, actor, parcelID, pieceID, boxID)
	})
}

func (s *Service) RemovePieceFromBox(ctx context.Context, actor models.Actor, pieceID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.RemovePieceFromBox(ctx, tx, actor, pieceID)
	})
}

func (s *Service) MoveToNewBox(ctx context.Context, actor models.Actor, pieceIDs []int64, destBoxID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.MoveToNewBox(ctx, tx, actor, pieceIDs, destBoxID)
	})
}

func (s *Service) AttachBoxToShipment(ctx context.Context, actor models.Actor, boxID, shipmentID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.AttachBoxToShipment(ctx, tx, actor, boxID, shipmentID)
	})
}

func (s *Service) CommitLot(ctx context.Context, actor models.Actor, lotID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.cons.CommitLot(ctx, tx, actor, lotID)
	})
}

func (s *Service) CommitShipment(ctx context.Context, actor models.Actor, shipmentID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.CommitShipment(ctx, tx, actor, shipmentID)
	})
}

func (s *Service) ReceivePieceAtVN(ctx context.Context, actor models.Actor, pieceID int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return s.cons.ReceivePieceAtVN(ctx, tx, actor, pieceID)
	})
}

func (s *Service) InconsistentChains(ctx context.Context) ([]consolidation.ChainReport, error) {
	var out []consolidation.ChainReport
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = s.cons.InconsistentChains(ctx, tx)
		return err
	})
	return out, err
}

func (s *Service) CreateRequests(ctx context.Context, actor models.Actor, in requests.CreateInput) ([]*models.BuyerRequest, error) {
	var out []*models.BuyerRequest
	err := s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		var err error
		out, err = s.wf.CreateRequests(ctx, tx, actor, in)
		return nil, err
	})
	return out, err
}

func (s *Service) SubmitActualQuantity(ctx context.Context, actor models.Actor, requestID int64, actual int) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.wf.SubmitActualQuantity(ctx, tx, actor, requestID, actual)
	})
}

func (s *Service) DeleteRequests(ctx context.Context, actor models.Actor, ids ...int64) error {
	return s.exec(ctx, func(ctx context.Context, tx store.Tx) ([]jobs.Job, error) {
		return nil, s.wf.DeleteRequests(ctx, tx, actor, ids...)
	})
}
