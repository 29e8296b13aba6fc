package parcels

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/store"
)

// trackedTx remembers which parcels a command wrote so their cached views can be dropped
// after commit.
type trackedTx struct {
	store.Tx
	touched map[int64]struct{}
}

func newTrackedTx(tx store.Tx) *trackedTx {
	return &trackedTx{Tx: tx, touched: map[int64]struct{}{}}
}

func (t *trackedTx) Parcels() store.ParcelRepository {
	return trackedParcels{ParcelRepository: t.Tx.Parcels(), t: t}
}

func (t *trackedTx) Pieces() store.PieceRepository {
	return trackedPieces{PieceRepository: t.Tx.Pieces(), t: t}
}

func (t *trackedTx) ids() []int64 {
	out := make([]int64, 0, len(t.touched))
	for id := range t.touched {
		out = append(out, id)
	}
	return out
}

type trackedParcels struct {
	store.ParcelRepository
	t *trackedTx
}

func (r trackedParcels) Create(ctx context.Context, p *models.Parcel) error {
	if err := r.ParcelRepository.Create(ctx, p); err != nil {
		return err
	}
	r.t.touched[p.ID] = struct{}{}
	return nil
}

func (r trackedParcels) Update(ctx context.Context, p *models.Parcel) error {
	r.t.touched[p.ID] = struct{}{}
	return r.ParcelRepository.Update(ctx, p)
}

type trackedPieces struct {
	store.PieceRepository
	t *trackedTx
}

func (r trackedPieces) Create(ctx context.Context, p *models.Piece) error {
	r.t.touched[p.ParcelID] = struct{}{}
	return r.PieceRepository.Create(ctx, p)
}

func (r trackedPieces) Update(ctx context.Context, p *models.Piece) error {
	r.t.touched[p.ParcelID] = struct{}{}
	return r.PieceRepository.Update(ctx, p)
}

func (r trackedPieces) Delete(ctx context.Context, id int64) error {
	p, err := r.PieceRepository.Get(ctx, id)
	if err != nil {
		return err
	}
	r.t.touched[p.ParcelID] = struct{}{}
	return r.PieceRepository.Delete(ctx, id)
}
