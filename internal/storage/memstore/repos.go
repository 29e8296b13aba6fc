package memstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/matching"
	"github.com/BearBump/ParcelBox/internal/models"
)

type parcelRepo struct{ st *state }

func (r parcelRepo) Create(ctx context.Context, p *models.Parcel) error {
	key := matching.Normalize(p.TrackingNumber)
	for _, ex := range r.st.parcels {
		if !ex.Deleted() && matching.Normalize(ex.TrackingNumber) == key {
			return apperr.ErrInvalidArgument.New("tracking number %s already registered", p.TrackingNumber).
				WithTrackingNumbers(p.TrackingNumber)
		}
	}
	p.ID = r.st.id()
	r.st.parcels[p.ID] = p.Clone()
	return nil
}

func (r parcelRepo) Get(ctx context.Context, id int64) (*models.Parcel, error) {
	p, ok := r.st.parcels[id]
	if !ok {
		return nil, apperr.NotFound("parcel", id)
	}
	return p.Clone(), nil
}

func (r parcelRepo) GetMany(ctx context.Context, ids []int64) ([]*models.Parcel, error) {
	out := make([]*models.Parcel, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r parcelRepo) Update(ctx context.Context, p *models.Parcel) error {
	if _, ok := r.st.parcels[p.ID]; !ok {
		return apperr.NotFound("parcel", p.ID)
	}
	r.st.parcels[p.ID] = p.Clone()
	return nil
}

func (r parcelRepo) ListByChain(ctx context.Context, chain string) ([]*models.Parcel, error) {
	var out []*models.Parcel
	if chain == "" {
		return out, nil
	}
	for _, p := range r.st.parcels {
		if p.Chain == chain && !p.Deleted() {
			out = append(out, p.Clone())
		}
	}
	sortParcels(out)
	return out, nil
}

func (r parcelRepo) FindCandidates(ctx context.Context, key, ref string) ([]*models.Parcel, error) {
	var out []*models.Parcel
	for _, p := range r.st.parcels {
		if p.Deleted() {
			continue
		}
		if matching.Key(p.TrackingNumber) == key ||
			(ref != "" && p.AlternativeRef != nil && strings.EqualFold(*p.AlternativeRef, ref)) {
			out = append(out, p.Clone())
		}
	}
	sortParcels(out)
	return out, nil
}

func (r parcelRepo) ListMixedAgentChains(ctx context.Context) ([]string, error) {
	codes := map[string]map[string]struct{}{}
	for _, p := range r.st.parcels {
		if p.Deleted() || p.Chain == "" {
			continue
		}
		if codes[p.Chain] == nil {
			codes[p.Chain] = map[string]struct{}{}
		}
		codes[p.Chain][p.AgentCodeValue()] = struct{}{}
	}
	var out []string
	for chain, set := range codes {
		if len(set) > 1 {
			out = append(out, chain)
		}
	}
	sort.Strings(out)
	return out, nil
}

func sortParcels(ps []*models.Parcel) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

type pieceRepo struct{ st *state }

func (r pieceRepo) Create(ctx context.Context, p *models.Piece) error {
	p.ID = r.st.id()
	r.st.pieces[p.ID] = p.Clone()
	return nil
}

func (r pieceRepo) Get(ctx context.Context, id int64) (*models.Piece, error) {
	p, ok := r.st.pieces[id]
	if !ok {
		return nil, apperr.NotFound("piece", id)
	}
	return p.Clone(), nil
}

func (r pieceRepo) Update(ctx context.Context, p *models.Piece) error {
	if _, ok := r.st.pieces[p.ID]; !ok {
		return apperr.NotFound("piece", p.ID)
	}
	r.st.pieces[p.ID] = p.Clone()
	return nil
}

func (r pieceRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.st.pieces[id]; !ok {
		return apperr.NotFound("piece", id)
	}
	delete(r.st.pieces, id)
	return nil
}

func (r pieceRepo) ListByParcel(ctx context.Context, parcelID int64) ([]*models.Piece, error) {
	return r.list(func(p *models.Piece) bool { return p.ParcelID == parcelID }), nil
}

func (r pieceRepo) ListByBox(ctx context.Context, boxID int64) ([]*models.Piece, error) {
	return r.list(func(p *models.Piece) bool { return p.BoxID != nil && *p.BoxID == boxID }), nil
}

func (r pieceRepo) list(keep func(*models.Piece) bool) []*models.Piece {
	var out []*models.Piece
	for _, p := range r.st.pieces {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParcelID != out[j].ParcelID {
			return out[i].ParcelID < out[j].ParcelID
		}
		return out[i].Number < out[j].Number
	})
	return out
}

type boxRepo struct{ st *state }

func (r boxRepo) Create(ctx context.Context, b *models.Box) error {
	b.ID = r.st.id()
	r.st.boxes[b.ID] = b.Clone()
	return nil
}

func (r boxRepo) Get(ctx context.Context, id int64) (*models.Box, error) {
	b, ok := r.st.boxes[id]
	if !ok {
		return nil, apperr.NotFound("box", id)
	}
	return b.Clone(), nil
}

func (r boxRepo) Update(ctx context.Context, b *models.Box) error {
	if _, ok := r.st.boxes[b.ID]; !ok {
		return apperr.NotFound("box", b.ID)
	}
	r.st.boxes[b.ID] = b.Clone()
	return nil
}

func (r boxRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.st.boxes[id]; !ok {
		return apperr.NotFound("box", id)
	}
	delete(r.st.boxes, id)
	return nil
}

func (r boxRepo) ListByShipment(ctx context.Context, shipmentID int64) ([]*models.Box, error) {
	return r.list(func(b *models.Box) bool { return b.ShipmentID != nil && *b.ShipmentID == shipmentID }), nil
}

func (r boxRepo) ListByLot(ctx context.Context, lotID int64) ([]*models.Box, error) {
	return r.list(func(b *models.Box) bool { return b.LotID == lotID }), nil
}

func (r boxRepo) list(keep func(*models.Box) bool) []*models.Box {
	var out []*models.Box
	for _, b := range r.st.boxes {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r boxRepo) CreateLot(ctx context.Context, l *models.Lot) error {
	l.ID = r.st.id()
	cp := *l
	r.st.lots[l.ID] = &cp
	return nil
}

func (r boxRepo) GetLot(ctx context.Context, id int64) (*models.Lot, error) {
	l, ok := r.st.lots[id]
	if !ok {
		return nil, apperr.NotFound("lot", id)
	}
	cp := *l
	return &cp, nil
}

func (r boxRepo) UpdateLot(ctx context.Context, l *models.Lot) error {
	if _, ok := r.st.lots[l.ID]; !ok {
		return apperr.NotFound("lot", l.ID)
	}
	cp := *l
	r.st.lots[l.ID] = &cp
	return nil
}

func (r boxRepo) CreateShipment(ctx context.Context, s *models.Shipment) error {
	s.ID = r.st.id()
	cp := *s
	r.st.shipments[s.ID] = &cp
	return nil
}

func (r boxRepo) GetShipment(ctx context.Context, id int64) (*models.Shipment, error) {
	s, ok := r.st.shipments[id]
	if !ok {
		return nil, apperr.NotFound("shipment", id)
	}
	cp := *s
	return &cp, nil
}

func (r boxRepo) UpdateShipment(ctx context.Context, s *models.Shipment) error {
	if _, ok := r.st.shipments[s.ID]; !ok {
		return apperr.NotFound("shipment", s.ID)
	}
	cp := *s
	r.st.shipments[s.ID] = &cp
	return nil
}

type requestRepo struct{ st *state }

func (r requestRepo) Create(ctx context.Context, req *models.BuyerRequest) error {
	req.ID = r.st.id()
	r.st.requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) Get(ctx context.Context, id int64) (*models.BuyerRequest, error) {
	req, ok := r.st.requests[id]
	if !ok {
		return nil, apperr.NotFound("request", id)
	}
	return req.Clone(), nil
}

func (r requestRepo) Update(ctx context.Context, req *models.BuyerRequest) error {
	if _, ok := r.st.requests[req.ID]; !ok {
		return apperr.NotFound("request", req.ID)
	}
	r.st.requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) ListLive(ctx context.Context, key, ref string) ([]*models.BuyerRequest, error) {
	var out []*models.BuyerRequest
	for _, req := range r.st.requests {
		if req.DeletedAt != nil {
			continue
		}
		if matching.Key(req.TrackingNumber) == key || (ref != "" && matching.Normalize(req.TrackingNumber) == ref) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type buyerRepo struct{ st *state }

func (r buyerRepo) Get(ctx context.Context, id int64) (*models.Buyer, error) {
	b, ok := r.st.buyers[id]
	if !ok {
		return nil, apperr.NotFound("buyer", id)
	}
	cp := *b
	return &cp, nil
}

func (r buyerRepo) Update(ctx context.Context, b *models.Buyer) error {
	if _, ok := r.st.buyers[b.ID]; !ok {
		return apperr.NotFound("buyer", b.ID)
	}
	cp := *b
	r.st.buyers[b.ID] = &cp
	return nil
}

type eventRepo struct{ st *state }

func (r eventRepo) Append(ctx context.Context, rec *models.AuditRecord) error {
	rec.ID = r.st.id()
	cp := *rec
	r.st.events = append(r.st.events, &cp)
	return nil
}

func (r eventRepo) ListContaining(ctx context.Context, filters []json.RawMessage, limit, offset int) ([]*models.AuditRecord, error) {
	fs := make([]any, 0, len(filters))
	for _, f := range filters {
		var v any
		if err := json.Unmarshal(f, &v); err != nil {
			return nil, apperr.ErrInvalidArgument.New("bad filter: %v", err)
		}
		fs = append(fs, v)
	}
	var out []*models.AuditRecord
	skipped := 0
	for _, rec := range r.st.events {
		var doc any
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			continue
		}
		hit := false
		for _, f := range fs {
			if contains(doc, f) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// contains mirrors jsonb @> semantics.
func contains(doc, sub any) bool {
	switch s := sub.(type) {
	case map[string]any:
		d, ok := doc.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range s {
			dv, ok := d[k]
			if !ok || !contains(dv, v) {
				return false
			}
		}
		return true
	case []any:
		d, ok := doc.([]any)
		if !ok {
			return false
		}
		for _, v := range s {
			found := false
			for _, dv := range d {
				if contains(dv, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(doc, sub)
	}
}

type outboxRepo struct{ st *state }

func (r outboxRepo) Save(ctx context.Context, jobs []*models.OutboxJob) error {
	for _, j := range jobs {
		cp := *j
		r.st.outbox = append(r.st.outbox, &cp)
	}
	return nil
}

// Relay-side access, used outside business transactions.

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OutboxJob
	for _, j := range s.st.outbox {
		if j.PublishedAt != nil || j.NextAttemptAt == nil || j.NextAttemptAt.After(now) {
			continue
		}
		next := now.Add(lease)
		j.NextAttemptAt = &next
		cp := *j
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkJobPublished(ctx context.Context, id string, at time.Time) error {
	return s.updateJob(id, func(j *models.OutboxJob) {
		t := at
		j.PublishedAt = &t
		j.NextAttemptAt = nil
		j.Attempts++
	})
}

func (s *Store) MarkJobFailed(ctx context.Context, id string, lastErr string, nextAttemptAt *time.Time) error {
	return s.updateJob(id, func(j *models.OutboxJob) {
		e := lastErr
		j.LastError = &e
		j.Attempts++
		j.NextAttemptAt = nextAttemptAt
	})
}

func (s *Store) DeletePublishedJobs(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.st.outbox[:0]
	var n int64
	for _, j := range s.st.outbox {
		if j.PublishedAt != nil && j.PublishedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, j)
	}
	s.st.outbox = kept
	return n, nil
}

func (s *Store) updateJob(id string, fn func(*models.OutboxJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.st.outbox {
		if j.ID == id {
			fn(j)
			return nil
		}
	}
	return apperr.ErrNotFound.New("outbox job %s not found", id)
}
