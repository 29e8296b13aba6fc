package pgparcels

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type requestRepo struct{ tx pgx.Tx }

func (r requestRepo) Create(ctx context.Context, req *models.BuyerRequest) error {
	err := r.tx.QueryRow(ctx, `
INSERT INTO buyer_requests (
  buyer_id, tracking_number, type, quantity, actual_quantity, packing_request_state, note, created_at, deleted_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`, req.BuyerID, req.TrackingNumber, string(req.Type), req.Quantity, req.ActualQuantity,
		string(req.PackingRequestState), req.Note, req.CreatedAt, req.DeletedAt).Scan(&req.ID)
	return errors.Wrap(err, "insert request")
}

const requestColumns = `id, buyer_id, tracking_number, type, quantity, actual_quantity, packing_request_state, note, created_at, deleted_at`

func scanRequest(row scanner) (*models.BuyerRequest, error) {
	var req models.BuyerRequest
	var typ, state string
	if err := row.Scan(&req.ID, &req.BuyerID, &req.TrackingNumber, &typ, &req.Quantity, &req.ActualQuantity,
		&state, &req.Note, &req.CreatedAt, &req.DeletedAt); err != nil {
		return nil, err
	}
	req.Type = models.RequestType(typ)
	req.PackingRequestState = models.PackingRequestState(state)
	return &req, nil
}

func (r requestRepo) Get(ctx context.Context, id int64) (*models.BuyerRequest, error) {
	req, err := scanRequest(r.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM buyer_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select request")
	}
	return req, nil
}

func (r requestRepo) ListLive(ctx context.Context, key, ref string) ([]*models.BuyerRequest, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+requestColumns+`
FROM buyer_requests
WHERE deleted_at IS NULL
  AND (right(lower(tracking_number), 12) = $1 OR ($2::text <> '' AND lower(tracking_number) = $2::text))
ORDER BY id`, key, ref)
	if err != nil {
		return nil, errors.Wrap(err, "select requests")
	}
	defer rows.Close()

	var out []*models.BuyerRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan request")
		}
		out = append(out, req)
	}
	return out, errors.Wrap(rows.Err(), "iterate requests")
}

func (r requestRepo) Update(ctx context.Context, req *models.BuyerRequest) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE buyer_requests SET
  quantity = $2, actual_quantity = $3, packing_request_state = $4, note = $5, deleted_at = $6
WHERE id = $1
`, req.ID, req.Quantity, req.ActualQuantity, string(req.PackingRequestState), req.Note, req.DeletedAt)
	if err != nil {
		return errors.Wrap(err, "update request")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("request", req.ID)
	}
	return nil
}

type buyerRepo struct{ tx pgx.Tx }

func (r buyerRepo) Get(ctx context.Context, id int64) (*models.Buyer, error) {
	var b models.Buyer
	err := r.tx.QueryRow(ctx, `SELECT id, is_admin, packing_request_left FROM buyers WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.IsAdmin, &b.PackingRequestLeft)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("buyer", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select buyer")
	}
	return &b, nil
}

func (r buyerRepo) Update(ctx context.Context, b *models.Buyer) error {
	tag, err := r.tx.Exec(ctx, `UPDATE buyers SET is_admin = $2, packing_request_left = $3 WHERE id = $1`,
		b.ID, b.IsAdmin, b.PackingRequestLeft)
	if err != nil {
		return errors.Wrap(err, "update buyer")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("buyer", b.ID)
	}
	return nil
}

// UpsertBuyer mirrors a buyer account from the account service.
func (s *Storage) UpsertBuyer(ctx context.Context, b models.Buyer) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO buyers (id, is_admin, packing_request_left)
VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET is_admin = EXCLUDED.is_admin, packing_request_left = EXCLUDED.packing_request_left
`, b.ID, b.IsAdmin, b.PackingRequestLeft)
	return errors.Wrap(err, "upsert buyer")
}
