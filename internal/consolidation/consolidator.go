// Package consolidation keeps pieces, boxes and chains consistent and drives the boxing side of
// the parcel lifecycle. Operations run inside a caller-owned store transaction and return the
// jobs that must be enqueued once it commits.
package consolidation

import (
	"context"
	"sort"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	videoLeadIn  = 5 * time.Minute
	videoLeadOut = 15 * time.Minute
)

type Consolidator struct {
	engine   *status.Engine
	log      *audit.Log
	newToken func() string
}

func New(engine *status.Engine, log *audit.Log) *Consolidator {
	return &Consolidator{engine: engine, log: log, newToken: uuid.NewString}
}

func (c *Consolidator) now() time.Time { return c.engine.Now() }

func (c *Consolidator) Now() time.Time { return c.now() }

func (c *Consolidator) record(ctx context.Context, tx store.Tx, actor models.Actor, ev audit.Event) error {
	return c.log.Record(ctx, tx.Events(), actor, ev)
}

func (c *Consolidator) liveParcel(ctx context.Context, tx store.Tx, id int64) (*models.Parcel, error) {
	p, err := tx.Parcels().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted() {
		return nil, apperr.NotFound("parcel", id)
	}
	return p, nil
}

func (c *Consolidator) touch(ctx context.Context, tx store.Tx, p *models.Parcel) error {
	p.UpdatedAt = c.now()
	if err := tx.Parcels().Update(ctx, p); err != nil {
		return errors.Wrap(err, "update parcel")
	}
	return nil
}

// frozen reports whether the box belongs to a committed lot or shipment.
func frozen(ctx context.Context, tx store.Tx, b *models.Box) (bool, error) {
	l, err := tx.Boxes().GetLot(ctx, b.LotID)
	if err != nil {
		return false, err
	}
	if l.CommittedAt != nil {
		return true, nil
	}
	if b.ShipmentID != nil {
		s, err := tx.Boxes().GetShipment(ctx, *b.ShipmentID)
		if err != nil {
			return false, err
		}
		if s.CommittedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func openBox(ctx context.Context, tx store.Tx, id int64) (*models.Box, error) {
	b, err := tx.Boxes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fz, err := frozen(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	if fz {
		return nil, apperr.ErrBoxCommitted.New("box %d is committed", id).WithIDs(id)
	}
	return b, nil
}

// member is a parcel loaded together with its pieces.
type member struct {
	parcel *models.Parcel
	pieces []*models.Piece
}

func (m member) single() bool { return len(m.pieces) == 1 }

func loadMember(ctx context.Context, tx store.Tx, p *models.Parcel) (member, error) {
	pieces, err := tx.Pieces().ListByParcel(ctx, p.ID)
	if err != nil {
		return member{}, errors.Wrap(err, "list pieces")
	}
	return member{parcel: p, pieces: pieces}, nil
}

// Chain is the arena entry for one chain token: the token and its live members with pieces.
type Chain struct {
	Token   string
	Members []member
}

// loadChain returns the chain of p. A parcel without a token forms a chain of its own.
func loadChain(ctx context.Context, tx store.Tx, p *models.Parcel) (*Chain, error) {
	ch := &Chain{Token: p.Chain}
	parcels := []*models.Parcel{p}
	if p.Chain != "" {
		ps, err := tx.Parcels().ListByChain(ctx, p.Chain)
		if err != nil {
			return nil, errors.Wrap(err, "list chain")
		}
		parcels = ps
		if !containsParcel(ps, p.ID) {
			parcels = append(parcels, p)
		}
	}
	for _, cp := range parcels {
		// держим одну копию целевой посылки, чтобы изменения не расходились
		if cp.ID == p.ID {
			cp = p
		}
		m, err := loadMember(ctx, tx, cp)
		if err != nil {
			return nil, err
		}
		ch.Members = append(ch.Members, m)
	}
	sort.Slice(ch.Members, func(i, j int) bool { return ch.Members[i].parcel.ID < ch.Members[j].parcel.ID })
	return ch, nil
}

// SinglePiece returns members that move with the chain. Multi-piece members are handled
// piece by piece and never follow chain-wide operations.
func (ch *Chain) SinglePiece() []member {
	var out []member
	for _, m := range ch.Members {
		if m.single() {
			out = append(out, m)
		}
	}
	return out
}

// ConsistentWith reports whether every member carries code.
func (ch *Chain) ConsistentWith(code *string, except int64) bool {
	for _, m := range ch.Members {
		if m.parcel.ID == except {
			continue
		}
		if !sameCode(m.parcel.AgentCode, code) {
			return false
		}
	}
	return true
}

func (ch *Chain) TrackingNumbers() []string {
	out := make([]string, 0, len(ch.Members))
	for _, m := range ch.Members {
		out = append(out, m.parcel.TrackingNumber)
	}
	return out
}

func containsParcel(ps []*models.Parcel, id int64) bool {
	for _, p := range ps {
		if p.ID == id {
			return true
		}
	}
	return false
}

func sameCode(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// onHold fails when any of the parcels is on hold or waits for return.
func onHold(ps ...*models.Parcel) error {
	var tns []string
	seen := map[int64]bool{}
	for _, p := range ps {
		if p.Held() && !seen[p.ID] {
			seen[p.ID] = true
			tns = append(tns, p.TrackingNumber)
		}
	}
	if len(tns) == 0 {
		return nil
	}
	return apperr.ErrParcelOnHold.New("parcels are on hold").WithTrackingNumbers(tns...)
}

func parcelsOf(ms []member) []*models.Parcel {
	out := make([]*models.Parcel, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.parcel)
	}
	return out
}

func idsOf(ms []member) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.parcel.ID)
	}
	return out
}
