// Package pgparcels is the PostgreSQL implementation of store.TxManager and of the relay's
// outbox access.
package pgparcels

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// WithinTx runs fn in one transaction. Rows read through the parcel, piece and box
// repositories are locked until commit, so concurrent commands touching the same parcels
// run one after another.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Parcels() store.ParcelRepository   { return parcelRepo{t.tx} }
func (t *pgTx) Pieces() store.PieceRepository     { return pieceRepo{t.tx} }
func (t *pgTx) Boxes() store.BoxRepository        { return boxRepo{t.tx} }
func (t *pgTx) Requests() store.RequestRepository { return requestRepo{t.tx} }
func (t *pgTx) Buyers() store.BuyerRepository     { return buyerRepo{t.tx} }
func (t *pgTx) Events() store.EventRepository     { return eventRepo{t.tx} }
func (t *pgTx) Outbox() store.OutboxRepository    { return outboxRepo{t.tx} }

type scanner interface {
	Scan(dest ...any) error
}
