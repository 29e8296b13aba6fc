package status

import (
	"time"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
)

type Direction int

const (
	Forward Direction = iota
	Reversion
)

type Transition struct {
	From, To  Status
	Direction Direction
}

// Table lists every permitted move. Forward moves stamp the target's timestamp,
// reversions clear the timestamp of the status being left.
var Table = buildTable()

func buildTable() []Transition {
	t := []Transition{
		{New, Registered, Forward},
		{New, ReceivedAtUSWarehouse, Forward},
		{Registered, ReceivedAtUSWarehouse, Forward},
		{ReceivedAtUSWarehouse, Repacking, Forward},
		{Repacking, Repacked, Forward},
		{Repacked, Boxed, Forward},
		{Boxed, FlyingBack, Forward},
		{FlyingBack, ReceivedAtVNWarehouse, Forward},
		{ReceivedAtVNWarehouse, PackedAtVN, Forward},
		{PackedAtVN, PackBoxCommitted, Forward},
		{PackBoxCommitted, Delivered, Forward},
		{ReceivedAtVNWarehouse, ArchiveAtVN, Forward},

		{Repacked, Repacking, Reversion},
		{Boxed, Repacked, Reversion},
		{ArchiveAtVN, ReceivedAtVNWarehouse, Reversion},
	}
	for s := New; s < Archived; s++ {
		t = append(t, Transition{s, Archived, Forward})
	}
	return t
}

func Lookup(from, to Status) (Transition, bool) {
	for _, tr := range Table {
		if tr.From == from && tr.To == to {
			return tr, true
		}
	}
	return Transition{}, false
}

// Apply moves p to target in memory. changed is false when p is already at target.
func Apply(p *models.Parcel, target Status, now time.Time) (from Status, changed bool, err error) {
	from = Of(p)
	if from == target {
		return from, false, nil
	}
	tr, ok := Lookup(from, target)
	if !ok {
		return from, false, apperr.ErrInvalidTransition.
			New("%s -> %s", from, target).
			WithTrackingNumbers(p.TrackingNumber)
	}
	switch tr.Direction {
	case Forward:
		stamp(&p.Timestamps, target, now)
	case Reversion:
		*field(&p.Timestamps, from) = nil
		// старые записи могли не иметь метки целевого статуса
		if Of(p) != target {
			stamp(&p.Timestamps, target, now)
		}
	}
	return from, true, nil
}

// jumpTo stamps target directly, bypassing the table. Used only for agent-code auto advance.
func jumpTo(p *models.Parcel, target Status, now time.Time) (from Status, changed bool) {
	from = Of(p)
	if from.Power() >= target.Power() {
		return from, false
	}
	stamp(&p.Timestamps, target, now)
	return from, true
}

func stamp(ts *models.Timestamps, s Status, now time.Time) {
	t := now
	*field(ts, s) = &t
}
