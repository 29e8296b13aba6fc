// Package memstore is an in-process implementation of store.TxManager. Transactions work on a
// copy of the state that replaces the committed state only when the callback succeeds, so a
// failed command leaves nothing behind. Transactions are serialized.
package memstore

import (
	"context"
	"sync"

	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/store"
)

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

type state struct {
	nextID    int64
	parcels   map[int64]*models.Parcel
	pieces    map[int64]*models.Piece
	boxes     map[int64]*models.Box
	lots      map[int64]*models.Lot
	shipments map[int64]*models.Shipment
	requests  map[int64]*models.BuyerRequest
	buyers    map[int64]*models.Buyer
	events    []*models.AuditRecord
	outbox    []*models.OutboxJob
}

func newState() *state {
	return &state{
		parcels:   map[int64]*models.Parcel{},
		pieces:    map[int64]*models.Piece{},
		boxes:     map[int64]*models.Box{},
		lots:      map[int64]*models.Lot{},
		shipments: map[int64]*models.Shipment{},
		requests:  map[int64]*models.BuyerRequest{},
		buyers:    map[int64]*models.Buyer{},
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.parcels {
		c.parcels[k] = v.Clone()
	}
	for k, v := range s.pieces {
		c.pieces[k] = v.Clone()
	}
	for k, v := range s.boxes {
		c.boxes[k] = v.Clone()
	}
	for k, v := range s.lots {
		l := *v
		c.lots[k] = &l
	}
	for k, v := range s.shipments {
		sh := *v
		c.shipments[k] = &sh
	}
	for k, v := range s.requests {
		c.requests[k] = v.Clone()
	}
	for k, v := range s.buyers {
		b := *v
		c.buyers[k] = &b
	}
	// записи журнала и outbox неизменяемы, копируем только срезы
	c.events = append([]*models.AuditRecord(nil), s.events...)
	c.outbox = make([]*models.OutboxJob, len(s.outbox))
	for i, j := range s.outbox {
		cp := *j
		c.outbox[i] = &cp
	}
	return c
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Parcels() store.ParcelRepository   { return parcelRepo{t.st} }
func (t *tx) Pieces() store.PieceRepository     { return pieceRepo{t.st} }
func (t *tx) Boxes() store.BoxRepository        { return boxRepo{t.st} }
func (t *tx) Requests() store.RequestRepository { return requestRepo{t.st} }
func (t *tx) Buyers() store.BuyerRepository     { return buyerRepo{t.st} }
func (t *tx) Events() store.EventRepository     { return eventRepo{t.st} }
func (t *tx) Outbox() store.OutboxRepository    { return outboxRepo{t.st} }

// PutBuyer seeds a buyer; buyers are owned by another system.
func (s *Store) PutBuyer(b models.Buyer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.buyers[b.ID] = &b
}

func (s *Store) Parcel(id int64) *models.Parcel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.st.parcels[id]; ok {
		return p.Clone()
	}
	return nil
}

func (s *Store) Piece(id int64) *models.Piece {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.st.pieces[id]; ok {
		return p.Clone()
	}
	return nil
}

func (s *Store) Buyer(id int64) *models.Buyer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.st.buyers[id]; ok {
		cp := *b
		return &cp
	}
	return nil
}

func (s *Store) Request(id int64) *models.BuyerRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.st.requests[id]; ok {
		return r.Clone()
	}
	return nil
}

func (s *Store) Events() []*models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuditRecord(nil), s.st.events...)
}

func (s *Store) OutboxJobs() []*models.OutboxJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.OutboxJob, len(s.st.outbox))
	for i, j := range s.st.outbox {
		cp := *j
		out[i] = &cp
	}
	return out
}
