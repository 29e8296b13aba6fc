package status

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/pkg/errors"
)

// Engine is the only writer of status timestamps. Every effective change is persisted,
// audited and turned into a status-update job for the caller to enqueue.
type Engine struct {
	log *audit.Log
	now func() time.Time
}

func NewEngine(log *audit.Log, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{log: log, now: now}
}

func (e *Engine) Now() time.Time { return e.now() }

type MoveOption func(*jobs.StatusUpdate)

func WithPieceInfo(pi jobs.PieceInfo) MoveOption {
	return func(su *jobs.StatusUpdate) { su.PieceInfo = &pi }
}

func WithSheetOrigin(origin string) MoveOption {
	return func(su *jobs.StatusUpdate) {
		if origin != "" {
			su.SheetOrigin = &origin
		}
	}
}

// MoveToStatus transitions p to target. Moving to the current status is a no-op that
// returns no jobs and writes no audit entry.
func (e *Engine) MoveToStatus(ctx context.Context, tx store.Tx, actor models.Actor, p *models.Parcel, target Status, opts ...MoveOption) ([]jobs.Job, error) {
	now := e.now()
	from, changed, err := Apply(p, target, now)
	if err != nil || !changed {
		return nil, err
	}
	return e.commit(ctx, tx, actor, p, from, target, now, opts)
}

// SetAgentCode assigns or clears the parcel's agent code. A parcel below repacking is advanced
// to repacking when it receives a code; clearing the code above repacking is rejected except
// for archiveAtVN.
func (e *Engine) SetAgentCode(ctx context.Context, tx store.Tx, actor models.Actor, p *models.Parcel, code *string) ([]jobs.Job, error) {
	code = normalizeCode(code)
	if sameCode(p.AgentCode, code) {
		return nil, nil
	}
	cur := Of(p)
	if code == nil && cur.Power() > Repacking.Power() && cur != ArchiveAtVN {
		return nil, apperr.ErrAgentCodeRequired.
			New("parcel %s is %s", p.TrackingNumber, cur).
			WithTrackingNumbers(p.TrackingNumber)
	}

	prev := p.AgentCode
	p.AgentCode = code
	if err := e.log.Record(ctx, tx.Events(), actor, audit.ParcelAgentCodeAssigned{
		ParcelID: p.ID, From: prev, To: code,
	}); err != nil {
		return nil, err
	}

	if code == nil || cur.Power() >= Repacking.Power() {
		if err := tx.Parcels().Update(ctx, p); err != nil {
			return nil, errors.Wrap(err, "update parcel")
		}
		return nil, nil
	}

	now := e.now()
	var from Status
	if cur == ReceivedAtUSWarehouse {
		var err error
		if from, _, err = Apply(p, Repacking, now); err != nil {
			return nil, err
		}
	} else {
		from, _ = jumpTo(p, Repacking, now)
	}
	return e.commit(ctx, tx, actor, p, from, Repacking, now, nil)
}

func (e *Engine) commit(ctx context.Context, tx store.Tx, actor models.Actor, p *models.Parcel, from, to Status, now time.Time, opts []MoveOption) ([]jobs.Job, error) {
	if err := tx.Parcels().Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update parcel")
	}
	if err := e.log.Record(ctx, tx.Events(), actor, audit.ParcelStatusChanged{
		ParcelID:       p.ID,
		TrackingNumber: p.TrackingNumber,
		From:           from.String(),
		To:             to.String(),
	}); err != nil {
		return nil, err
	}
	su := jobs.StatusUpdate{
		TrackingNumber: p.TrackingNumber,
		Timestamp:      now,
		Status:         to.String(),
	}
	for _, o := range opts {
		o(&su)
	}
	return []jobs.Job{jobs.NewStatusUpdate(su)}, nil
}

func normalizeCode(code *string) *string {
	if code == nil {
		return nil
	}
	v := strings.TrimSpace(*code)
	if v == "" {
		return nil
	}
	return &v
}

func sameCode(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
