// Package status derives a parcel's lifecycle status from its milestone timestamps and moves
// parcels between statuses through an explicit transition table.
package status

import (
	"time"

	"github.com/BearBump/ParcelBox/internal/models"
)

type Status int

const (
	New Status = iota
	Registered
	ReceivedAtUSWarehouse
	Repacking
	Repacked
	Boxed
	FlyingBack
	ReceivedAtVNWarehouse
	PackedAtVN
	PackBoxCommitted
	Delivered
	ArchiveAtVN
	Archived
)

var names = map[Status]string{
	New:                   "new",
	Registered:            "registered",
	ReceivedAtUSWarehouse: "receivedAtUSWarehouse",
	Repacking:             "repacking",
	Repacked:              "repacked",
	Boxed:                 "boxed",
	FlyingBack:            "flyingBack",
	ReceivedAtVNWarehouse: "receivedAtVNWarehouse",
	PackedAtVN:            "packedAtVN",
	PackBoxCommitted:      "packBoxCommitted",
	Delivered:             "delivered",
	ArchiveAtVN:           "archiveAtVN",
	Archived:              "archived",
}

func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "unknown"
}

func Parse(name string) (Status, bool) {
	for s, n := range names {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Power orders statuses along the lifecycle. archiveAtVN sits next to receivedAtVNWarehouse,
// archived is above everything.
func (s Status) Power() int {
	switch s {
	case ArchiveAtVN:
		return 7
	case Archived:
		return 11
	}
	return int(s)
}

// precedence is the derivation order: the first status whose timestamp is set wins.
var precedence = []Status{
	Archived, ArchiveAtVN, Delivered, PackBoxCommitted, PackedAtVN, ReceivedAtVNWarehouse,
	FlyingBack, Boxed, Repacked, Repacking, ReceivedAtUSWarehouse, Registered,
}

// Derive computes the status from timestamps only.
func Derive(ts models.Timestamps) Status {
	for _, s := range precedence {
		if *field(&ts, s) != nil {
			return s
		}
	}
	return New
}

func Of(p *models.Parcel) Status {
	return Derive(p.Timestamps)
}

func field(ts *models.Timestamps, s Status) **time.Time {
	switch s {
	case Registered:
		return &ts.RegisteredAt
	case ReceivedAtUSWarehouse:
		return &ts.ReceivedAtUSAt
	case Repacking:
		return &ts.RepackingStartedAt
	case Repacked:
		return &ts.RepackedAt
	case Boxed:
		return &ts.BoxedAt
	case FlyingBack:
		return &ts.FlyingBackAt
	case ReceivedAtVNWarehouse:
		return &ts.ReceivedAtVNAt
	case PackedAtVN:
		return &ts.PackedAtVNAt
	case PackBoxCommitted:
		return &ts.PackBoxCommittedAt
	case Delivered:
		return &ts.DeliveredAt
	case ArchiveAtVN:
		return &ts.ArchiveAtVNAt
	case Archived:
		return &ts.ArchivedAt
	}
	var none *time.Time
	return &none
}
