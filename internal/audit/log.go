// Package audit is the append-only domain event log. Payloads are stored in a versioned envelope
// (kind, version, payload) and decoded back through a closed registry of event kinds.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/pkg/errors"
)

type Appender interface {
	Append(ctx context.Context, r *models.AuditRecord) error
}

type Querier interface {
	ListContaining(ctx context.Context, filters []json.RawMessage, limit, offset int) ([]*models.AuditRecord, error)
}

type Log struct {
	now func() time.Time
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Log{now: now}
}

// Record appends ev through the transaction-bound appender, so the entry commits or rolls back
// together with the mutation it describes.
func (l *Log) Record(ctx context.Context, app Appender, actor models.Actor, ev Event) error {
	rec, err := Encode(actor, ev, l.now())
	if err != nil {
		return err
	}
	if err := app.Append(ctx, rec); err != nil {
		return errors.Wrapf(err, "append %s", ev.Kind())
	}
	return nil
}

func Encode(actor models.Actor, ev Event, at time.Time) (*models.AuditRecord, error) {
	if ev == nil {
		return nil, apperr.ErrInvalidArgument.New("audit event is nil")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", ev.Kind())
	}
	return &models.AuditRecord{
		Actor:     actor,
		Kind:      ev.Kind(),
		Version:   schemaVersion,
		Payload:   b,
		CreatedAt: at,
	}, nil
}

// Decode turns a stored record back into its typed event. Unknown kinds are an error, never
// silently skipped.
func Decode(rec *models.AuditRecord) (Event, error) {
	dec, ok := registry[rec.Kind]
	if !ok {
		return nil, apperr.ErrInvalidArgument.New("unknown audit event kind %q", rec.Kind)
	}
	if rec.Version != schemaVersion {
		return nil, apperr.ErrInvalidArgument.New("unsupported %s version %d", rec.Kind, rec.Version)
	}
	ev, err := dec(rec.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", rec.Kind)
	}
	return ev, nil
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Filter selects timeline entries. Zero fields are ignored; a record matches when it references
// any of the set identifiers.
type Filter struct {
	ParcelID   int64
	PieceID    int64
	BoxID      int64
	RequestID  int64
	BuyerID    int64
	ShipmentID int64
}

func (f Filter) containment() []json.RawMessage {
	var out []json.RawMessage
	add := func(v any) {
		b, _ := json.Marshal(v)
		out = append(out, b)
	}
	if f.ParcelID != 0 {
		add(map[string]int64{"parcelId": f.ParcelID})
		add(map[string][]int64{"parcelIds": {f.ParcelID}})
	}
	if f.PieceID != 0 {
		add(map[string]int64{"pieceId": f.PieceID})
	}
	if f.BoxID != 0 {
		add(map[string]int64{"boxId": f.BoxID})
		add(map[string][]int64{"boxIds": {f.BoxID}})
	}
	if f.RequestID != 0 {
		add(map[string]int64{"requestId": f.RequestID})
	}
	if f.BuyerID != 0 {
		add(map[string]int64{"buyerId": f.BuyerID})
	}
	if f.ShipmentID != 0 {
		add(map[string]int64{"shipmentId": f.ShipmentID})
	}
	return out
}

type Entry struct {
	Record *models.AuditRecord
	Event  Event
}

func (l *Log) Timeline(ctx context.Context, q Querier, f Filter, limit, offset int) ([]Entry, error) {
	filters := f.containment()
	if len(filters) == 0 {
		return nil, apperr.ErrInvalidArgument.New("timeline filter is empty")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	recs, err := q.ListContaining(ctx, filters, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		ev, err := Decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Record: r, Event: ev})
	}
	return out, nil
}
