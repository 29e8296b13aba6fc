package status_test

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/storage/memstore"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/stretchr/testify/require"
)

var (
	now   = time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	clock = func() time.Time { return now }
	actor = models.Actor{Kind: models.ActorUser, ID: "staff-1"}
)

func newEngine() *status.Engine {
	return status.NewEngine(audit.NewLog(clock), clock)
}

func seed(t *testing.T, s *memstore.Store, p *models.Parcel) int64 {
	t.Helper()
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Parcels().Create(ctx, p)
	}))
	return p.ID
}

func ptr[T any](v T) *T { return &v }

func TestEngine_AgentCodeAutoAdvance(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{TrackingNumber: "P1", Timestamps: models.Timestamps{RegisteredAt: ptr(now.Add(-time.Hour))}})

	var out []jobs.Job
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = e.SetAgentCode(ctx, tx, actor, p, ptr("DC"))
		return err
	}))

	p := s.Parcel(id)
	require.Equal(t, status.Repacking, status.Of(p))
	require.Equal(t, "DC", *p.AgentCode)

	evs := s.Events()
	require.Len(t, evs, 2)
	require.Equal(t, audit.KindParcelAgentCodeAssigned, evs[0].Kind)
	require.Equal(t, audit.KindParcelStatusChanged, evs[1].Kind)

	require.Len(t, out, 1)
	su := out[0].Payload.(jobs.StatusUpdate)
	require.Equal(t, "repacking", su.Status)
	require.Equal(t, "P1", su.TrackingNumber)
}

func TestEngine_ClearAgentCodeAboveRepacking(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{
		TrackingNumber: "P2",
		AgentCode:      ptr("DC"),
		Timestamps:     models.Timestamps{RepackingStartedAt: ptr(now), RepackedAt: ptr(now)},
	})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		_, err = e.SetAgentCode(ctx, tx, actor, p, nil)
		return err
	})
	require.ErrorIs(t, err, apperr.ErrAgentCodeRequired)
	require.Equal(t, "DC", *s.Parcel(id).AgentCode)
	require.Empty(t, s.Events())
}

func TestEngine_ClearAgentCodeAtArchiveAtVN(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{
		TrackingNumber: "P3",
		AgentCode:      ptr("DC"),
		Timestamps:     models.Timestamps{ReceivedAtVNAt: ptr(now), ArchiveAtVNAt: ptr(now)},
	})

	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		_, err = e.SetAgentCode(ctx, tx, actor, p, nil)
		return err
	}))
	require.Nil(t, s.Parcel(id).AgentCode)
}

func TestEngine_MoveToStatusIdempotent(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{TrackingNumber: "P4"})

	move := func() []jobs.Job {
		var out []jobs.Job
		require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			p, err := tx.Parcels().Get(ctx, id)
			if err != nil {
				return err
			}
			out, err = e.MoveToStatus(ctx, tx, actor, p, status.Registered)
			return err
		}))
		return out
	}

	require.Len(t, move(), 1)
	first := *s.Parcel(id).RegisteredAt
	require.Empty(t, move())
	require.Equal(t, first, *s.Parcel(id).RegisteredAt)
	require.Len(t, s.Events(), 1)
}

func TestEngine_InvalidTransitionWritesNothing(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{TrackingNumber: "P5", Timestamps: models.Timestamps{ReceivedAtUSAt: ptr(now)}})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		_, err = e.MoveToStatus(ctx, tx, actor, p, status.Delivered)
		return err
	})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	require.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	require.Nil(t, s.Parcel(id).DeliveredAt)
	require.Empty(t, s.Events())
}

func TestEngine_MoveOptions(t *testing.T) {
	s := memstore.New()
	e := newEngine()
	id := seed(t, s, &models.Parcel{TrackingNumber: "P6"})

	var out []jobs.Job
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = e.MoveToStatus(ctx, tx, actor, p, status.ReceivedAtUSWarehouse,
			status.WithSheetOrigin("intake"), status.WithPieceInfo(jobs.PieceInfo{PieceID: 1, Number: 1, Total: 1}))
		return err
	}))
	su := out[0].Payload.(jobs.StatusUpdate)
	require.Equal(t, "intake", *su.SheetOrigin)
	require.Equal(t, 1, su.PieceInfo.Total)
	require.Equal(t, now, su.Timestamp)
}
