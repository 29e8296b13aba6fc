package pgparcels

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS parcels (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  alternative_ref TEXT NULL,
  agent_code TEXT NULL,
  warehouse_id BIGINT NULL,
  chain TEXT NOT NULL,
  quantity INT NOT NULL DEFAULT 0,
  image_count INT NOT NULL DEFAULT 0,
  registered_at TIMESTAMPTZ NULL,
  received_at_us_at TIMESTAMPTZ NULL,
  repacking_started_at TIMESTAMPTZ NULL,
  repacked_at TIMESTAMPTZ NULL,
  boxed_at TIMESTAMPTZ NULL,
  flying_back_at TIMESTAMPTZ NULL,
  received_at_vn_at TIMESTAMPTZ NULL,
  packed_at_vn_at TIMESTAMPTZ NULL,
  pack_box_committed_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  archive_at_vn_at TIMESTAMPTZ NULL,
  archived_at TIMESTAMPTZ NULL,
  broken_description TEXT NULL,
  broken_flagged_at TIMESTAMPTZ NULL,
  broken_customer_feedback TEXT NULL,
  broken_checked_at TIMESTAMPTZ NULL,
  hold_state TEXT NOT NULL DEFAULT '',
  return_requested BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_parcels_tracking_number ON parcels(lower(tracking_number)) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_match_key ON parcels(right(lower(tracking_number), 12)) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_alternative_ref ON parcels(lower(alternative_ref)) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_parcels_chain ON parcels(chain) WHERE deleted_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS lots (
  id BIGSERIAL PRIMARY KEY,
  committed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  committed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS boxes (
  id BIGSERIAL PRIMARY KEY,
  lot_id BIGINT NOT NULL REFERENCES lots(id),
  shipment_id BIGINT NULL REFERENCES shipments(id),
  label TEXT NOT NULL DEFAULT '',
  allowed_agent_codes TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_boxes_lot_id ON boxes(lot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_boxes_shipment_id ON boxes(shipment_id)`,
		`
CREATE TABLE IF NOT EXISTS pieces (
  id BIGSERIAL PRIMARY KEY,
  parcel_id BIGINT NOT NULL REFERENCES parcels(id),
  number INT NOT NULL,
  box_id BIGINT NULL REFERENCES boxes(id),
  boxed_at TIMESTAMPTZ NULL,
  flying_back_at TIMESTAMPTZ NULL,
  received_at_vn_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_pieces_parcel_id ON pieces(parcel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pieces_box_id ON pieces(box_id)`,
		`
CREATE TABLE IF NOT EXISTS buyers (
  id BIGINT PRIMARY KEY,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE,
  packing_request_left INT NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS buyer_requests (
  id BIGSERIAL PRIMARY KEY,
  buyer_id BIGINT NOT NULL,
  tracking_number TEXT NOT NULL,
  type TEXT NOT NULL,
  quantity INT NOT NULL DEFAULT 0,
  actual_quantity INT NULL,
  packing_request_state TEXT NOT NULL DEFAULT '',
  note TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  deleted_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_buyer_requests_buyer_id ON buyer_requests(buyer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_buyer_requests_match_key ON buyer_requests(right(lower(tracking_number), 12)) WHERE deleted_at IS NULL`,
		`
CREATE TABLE IF NOT EXISTS audit_events (
  id BIGSERIAL PRIMARY KEY,
  actor_kind TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  version INT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// поиск по содержимому payload (@>) для таймлайнов
		`CREATE INDEX IF NOT EXISTS idx_audit_events_payload ON audit_events USING GIN (payload jsonb_path_ops)`,
		`
CREATE TABLE IF NOT EXISTS outbox_jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  key TEXT NOT NULL,
  payload JSONB NOT NULL,
  max_retries INT NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NULL,
  published_at TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_jobs_due ON outbox_jobs(next_attempt_at) WHERE published_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_jobs_published_at ON outbox_jobs(published_at) WHERE published_at IS NOT NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
