package messages

import (
	"encoding/json"
	"time"
)

// JobEnvelope is what the relay publishes for every outbox job. Payload is the job body as
// stored in the outbox (jobs.StatusUpdate or jobs.VideoExtraction).
type JobEnvelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"payload"`
}
