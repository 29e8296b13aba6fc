// Package jobs describes the async side effects produced by the core: status-update notifications
// and video extraction requests. Jobs are collected as return values and persisted to the outbox in
// the same transaction as the mutation; the relay publishes them after commit.
package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindStatusUpdate    Kind = "statusUpdate"
	KindVideoExtraction Kind = "videoExtraction"
)

const (
	StatusUpdateMaxRetries    = 5
	VideoExtractionMaxRetries = 3
)

type PieceInfo struct {
	PieceID int64 `json:"pieceId"`
	Number  int   `json:"number"`
	Total   int   `json:"total"`
}

// StatusUpdate is consumed downstream, e.g. by the external sheet sync.
type StatusUpdate struct {
	TrackingNumber string     `json:"trackingNumber"`
	Timestamp      time.Time  `json:"timestamp"`
	SheetOrigin    *string    `json:"sheetOrigin,omitempty"`
	Status         string     `json:"status"`
	PieceInfo      *PieceInfo `json:"pieceInfo,omitempty"`
}

type VideoExtraction struct {
	TrackingID    int64     `json:"trackingId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	CameraChannel string    `json:"cameraChannel"`
}

type Job struct {
	Kind       Kind
	Key        string
	Payload    any
	MaxRetries int
}

func NewStatusUpdate(su StatusUpdate) Job {
	return Job{Kind: KindStatusUpdate, Key: su.TrackingNumber, Payload: su, MaxRetries: StatusUpdateMaxRetries}
}

func NewVideoExtraction(v VideoExtraction) Job {
	return Job{
		Kind:       KindVideoExtraction,
		Key:        strconv.FormatInt(v.TrackingID, 10),
		Payload:    v,
		MaxRetries: VideoExtractionMaxRetries,
	}
}

// Dispatcher is the enqueue contract of the external job system.
type Dispatcher interface {
	Enqueue(ctx context.Context, kind Kind, key string, payload any, maxRetries int) error
}

// Outbox persists outbox rows; implemented by the transaction-bound store.
type Outbox interface {
	Save(ctx context.Context, jobs []*models.OutboxJob) error
}

// OutboxDispatcher is a Dispatcher writing into the transactional outbox.
type OutboxDispatcher struct {
	outbox Outbox
	now    func() time.Time
}

func NewOutboxDispatcher(outbox Outbox, now func() time.Time) *OutboxDispatcher {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &OutboxDispatcher{outbox: outbox, now: now}
}

func (d *OutboxDispatcher) Enqueue(ctx context.Context, kind Kind, key string, payload any, maxRetries int) error {
	row, err := toOutbox(Job{Kind: kind, Key: key, Payload: payload, MaxRetries: maxRetries}, d.now())
	if err != nil {
		return err
	}
	return d.outbox.Save(ctx, []*models.OutboxJob{row})
}

// EnqueueAll dispatches every job in order, stopping at the first failure.
func EnqueueAll(ctx context.Context, d Dispatcher, js []Job) error {
	for _, j := range js {
		if err := d.Enqueue(ctx, j.Kind, j.Key, j.Payload, j.MaxRetries); err != nil {
			return errors.Wrapf(err, "enqueue %s job", j.Kind)
		}
	}
	return nil
}

func toOutbox(j Job, now time.Time) (*models.OutboxJob, error) {
	b, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal job payload")
	}
	maxRetries := j.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	next := now
	return &models.OutboxJob{
		ID:            uuid.NewString(),
		Kind:          string(j.Kind),
		Key:           j.Key,
		Payload:       b,
		MaxRetries:    maxRetries,
		NextAttemptAt: &next,
		CreatedAt:     now,
	}, nil
}
