// Package store defines the persistence contract of the core. Every command runs inside one
// transaction obtained from a TxManager; repositories handed out by a Tx are bound to it.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ParcelBox/internal/models"
)

type TxManager interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	Parcels() ParcelRepository
	Pieces() PieceRepository
	Boxes() BoxRepository
	Requests() RequestRepository
	Buyers() BuyerRepository
	Events() EventRepository
	Outbox() OutboxRepository
}

type ParcelRepository interface {
	Create(ctx context.Context, p *models.Parcel) error
	Get(ctx context.Context, id int64) (*models.Parcel, error)
	GetMany(ctx context.Context, ids []int64) ([]*models.Parcel, error)
	Update(ctx context.Context, p *models.Parcel) error
	// ListByChain returns live (not deleted) members of a chain.
	ListByChain(ctx context.Context, chain string) ([]*models.Parcel, error)
	// FindCandidates returns live parcels whose tracking-number match key equals key
	// or whose alternative ref equals ref, case-insensitively. See package matching.
	FindCandidates(ctx context.Context, key, ref string) ([]*models.Parcel, error)
	// ListMixedAgentChains returns chain tokens whose live members carry more than one agent code.
	ListMixedAgentChains(ctx context.Context) ([]string, error)
}

type PieceRepository interface {
	Create(ctx context.Context, p *models.Piece) error
	Get(ctx context.Context, id int64) (*models.Piece, error)
	Update(ctx context.Context, p *models.Piece) error
	Delete(ctx context.Context, id int64) error
	ListByParcel(ctx context.Context, parcelID int64) ([]*models.Piece, error)
	ListByBox(ctx context.Context, boxID int64) ([]*models.Piece, error)
}

type BoxRepository interface {
	Create(ctx context.Context, b *models.Box) error
	Get(ctx context.Context, id int64) (*models.Box, error)
	Update(ctx context.Context, b *models.Box) error
	Delete(ctx context.Context, id int64) error
	ListByShipment(ctx context.Context, shipmentID int64) ([]*models.Box, error)
	ListByLot(ctx context.Context, lotID int64) ([]*models.Box, error)

	CreateLot(ctx context.Context, l *models.Lot) error
	GetLot(ctx context.Context, id int64) (*models.Lot, error)
	UpdateLot(ctx context.Context, l *models.Lot) error
	CreateShipment(ctx context.Context, s *models.Shipment) error
	GetShipment(ctx context.Context, id int64) (*models.Shipment, error)
	UpdateShipment(ctx context.Context, s *models.Shipment) error
}

type RequestRepository interface {
	Create(ctx context.Context, r *models.BuyerRequest) error
	Get(ctx context.Context, id int64) (*models.BuyerRequest, error)
	Update(ctx context.Context, r *models.BuyerRequest) error
	// ListLive returns requests that are not deleted and whose tracking number has match key
	// key or equals ref, case-insensitively.
	ListLive(ctx context.Context, key, ref string) ([]*models.BuyerRequest, error)
}

type BuyerRepository interface {
	Get(ctx context.Context, id int64) (*models.Buyer, error)
	Update(ctx context.Context, b *models.Buyer) error
}

type EventRepository interface {
	Append(ctx context.Context, r *models.AuditRecord) error
	// ListContaining returns records whose payload structurally contains any of the filters,
	// oldest first.
	ListContaining(ctx context.Context, filters []json.RawMessage, limit, offset int) ([]*models.AuditRecord, error)
}

type OutboxRepository interface {
	Save(ctx context.Context, jobs []*models.OutboxJob) error
}

// RelayRepository is used by the outbox relay outside business transactions.
type RelayRepository interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxJob, error)
	MarkJobPublished(ctx context.Context, id string, at time.Time) error
	MarkJobFailed(ctx context.Context, id string, lastErr string, nextAttemptAt *time.Time) error
	DeletePublishedJobs(ctx context.Context, before time.Time) (int64, error)
}
