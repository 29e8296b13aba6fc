package pgparcels

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const parcelColumns = `
  id, tracking_number, alternative_ref, agent_code, warehouse_id, chain, quantity, image_count,
  registered_at, received_at_us_at, repacking_started_at, repacked_at, boxed_at, flying_back_at,
  received_at_vn_at, packed_at_vn_at, pack_box_committed_at, delivered_at, archive_at_vn_at, archived_at,
  broken_description, broken_flagged_at, broken_customer_feedback, broken_checked_at,
  hold_state, return_requested, deleted_at, created_at, updated_at`

func scanParcel(row scanner) (*models.Parcel, error) {
	var p models.Parcel
	var hold string
	ts := &p.Timestamps
	bp := &p.BrokenProduct
	err := row.Scan(
		&p.ID, &p.TrackingNumber, &p.AlternativeRef, &p.AgentCode, &p.WarehouseID, &p.Chain, &p.Quantity, &p.ImageCount,
		&ts.RegisteredAt, &ts.ReceivedAtUSAt, &ts.RepackingStartedAt, &ts.RepackedAt, &ts.BoxedAt, &ts.FlyingBackAt,
		&ts.ReceivedAtVNAt, &ts.PackedAtVNAt, &ts.PackBoxCommittedAt, &ts.DeliveredAt, &ts.ArchiveAtVNAt, &ts.ArchivedAt,
		&bp.Description, &bp.FlaggedAt, &bp.CustomerFeedback, &bp.CheckedAt,
		&hold, &p.ReturnRequested, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.HoldState = models.HoldState(hold)
	return &p, nil
}

func parcelArgs(p *models.Parcel) []any {
	ts := p.Timestamps
	bp := p.BrokenProduct
	return []any{
		p.TrackingNumber, p.AlternativeRef, p.AgentCode, p.WarehouseID, p.Chain, p.Quantity, p.ImageCount,
		ts.RegisteredAt, ts.ReceivedAtUSAt, ts.RepackingStartedAt, ts.RepackedAt, ts.BoxedAt, ts.FlyingBackAt,
		ts.ReceivedAtVNAt, ts.PackedAtVNAt, ts.PackBoxCommittedAt, ts.DeliveredAt, ts.ArchiveAtVNAt, ts.ArchivedAt,
		bp.Description, bp.FlaggedAt, bp.CustomerFeedback, bp.CheckedAt,
		string(p.HoldState), p.ReturnRequested, p.DeletedAt, p.CreatedAt, p.UpdatedAt,
	}
}

type parcelRepo struct{ tx pgx.Tx }

func (r parcelRepo) Create(ctx context.Context, p *models.Parcel) error {
	err := r.tx.QueryRow(ctx, `
INSERT INTO parcels (
  tracking_number, alternative_ref, agent_code, warehouse_id, chain, quantity, image_count,
  registered_at, received_at_us_at, repacking_started_at, repacked_at, boxed_at, flying_back_at,
  received_at_vn_at, packed_at_vn_at, pack_box_committed_at, delivered_at, archive_at_vn_at, archived_at,
  broken_description, broken_flagged_at, broken_customer_feedback, broken_checked_at,
  hold_state, return_requested, deleted_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
RETURNING id
`, parcelArgs(p)...).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.ErrInvalidArgument.New("tracking number %s already registered", p.TrackingNumber).
				WithTrackingNumbers(p.TrackingNumber)
		}
		return errors.Wrap(err, "insert parcel")
	}
	return nil
}

func (r parcelRepo) Get(ctx context.Context, id int64) (*models.Parcel, error) {
	p, err := scanParcel(r.tx.QueryRow(ctx, `SELECT`+parcelColumns+` FROM parcels WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("parcel", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select parcel")
	}
	return p, nil
}

func (r parcelRepo) GetMany(ctx context.Context, ids []int64) ([]*models.Parcel, error) {
	if len(ids) == 0 {
		return []*models.Parcel{}, nil
	}
	got, err := r.list(ctx, `SELECT`+parcelColumns+` FROM parcels WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Parcel, len(got))
	for _, p := range got {
		byID[p.ID] = p
	}
	// порядок как в ids, отсутствующий id это ошибка
	out := make([]*models.Parcel, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, apperr.NotFound("parcel", id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r parcelRepo) Update(ctx context.Context, p *models.Parcel) error {
	args := append(parcelArgs(p), p.ID)
	tag, err := r.tx.Exec(ctx, `
UPDATE parcels SET
  tracking_number = $1, alternative_ref = $2, agent_code = $3, warehouse_id = $4, chain = $5,
  quantity = $6, image_count = $7,
  registered_at = $8, received_at_us_at = $9, repacking_started_at = $10, repacked_at = $11,
  boxed_at = $12, flying_back_at = $13, received_at_vn_at = $14, packed_at_vn_at = $15,
  pack_box_committed_at = $16, delivered_at = $17, archive_at_vn_at = $18, archived_at = $19,
  broken_description = $20, broken_flagged_at = $21, broken_customer_feedback = $22, broken_checked_at = $23,
  hold_state = $24, return_requested = $25, deleted_at = $26, created_at = $27, updated_at = $28
WHERE id = $29
`, args...)
	if err != nil {
		return errors.Wrap(err, "update parcel")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("parcel", p.ID)
	}
	return nil
}

func (r parcelRepo) ListByChain(ctx context.Context, chain string) ([]*models.Parcel, error) {
	if chain == "" {
		return []*models.Parcel{}, nil
	}
	return r.list(ctx, `SELECT`+parcelColumns+` FROM parcels WHERE chain = $1 AND deleted_at IS NULL ORDER BY id FOR UPDATE`, chain)
}

func (r parcelRepo) FindCandidates(ctx context.Context, key, ref string) ([]*models.Parcel, error) {
	return r.list(ctx, `SELECT`+parcelColumns+`
FROM parcels
WHERE deleted_at IS NULL
  AND (right(lower(tracking_number), 12) = $1 OR ($2::text <> '' AND lower(alternative_ref) = $2::text))
ORDER BY id`, key, ref)
}

func (r parcelRepo) ListMixedAgentChains(ctx context.Context) ([]string, error) {
	rows, err := r.tx.Query(ctx, `
SELECT chain
FROM parcels
WHERE deleted_at IS NULL AND chain <> ''
GROUP BY chain
HAVING count(DISTINCT coalesce(agent_code, '')) > 1
ORDER BY chain`)
	if err != nil {
		return nil, errors.Wrap(err, "select mixed chains")
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan mixed chains")
	}
	return out, nil
}

func (r parcelRepo) list(ctx context.Context, q string, args ...any) ([]*models.Parcel, error) {
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select parcels")
	}
	defer rows.Close()

	out := []*models.Parcel{}
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan parcel")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
