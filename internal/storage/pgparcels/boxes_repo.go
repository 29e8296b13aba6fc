package pgparcels

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type pieceRepo struct{ tx pgx.Tx }

const pieceColumns = `id, parcel_id, number, box_id, boxed_at, flying_back_at, received_at_vn_at, created_at`

func scanPiece(row scanner) (*models.Piece, error) {
	var p models.Piece
	if err := row.Scan(&p.ID, &p.ParcelID, &p.Number, &p.BoxID, &p.BoxedAt, &p.FlyingBackAt, &p.ReceivedAtVNAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r pieceRepo) Create(ctx context.Context, p *models.Piece) error {
	err := r.tx.QueryRow(ctx, `
INSERT INTO pieces (parcel_id, number, box_id, boxed_at, flying_back_at, received_at_vn_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, p.ParcelID, p.Number, p.BoxID, p.BoxedAt, p.FlyingBackAt, p.ReceivedAtVNAt, p.CreatedAt).Scan(&p.ID)
	return errors.Wrap(err, "insert piece")
}

func (r pieceRepo) Get(ctx context.Context, id int64) (*models.Piece, error) {
	p, err := scanPiece(r.tx.QueryRow(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("piece", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select piece")
	}
	return p, nil
}

func (r pieceRepo) Update(ctx context.Context, p *models.Piece) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE pieces SET parcel_id = $2, number = $3, box_id = $4, boxed_at = $5, flying_back_at = $6, received_at_vn_at = $7
WHERE id = $1
`, p.ID, p.ParcelID, p.Number, p.BoxID, p.BoxedAt, p.FlyingBackAt, p.ReceivedAtVNAt)
	if err != nil {
		return errors.Wrap(err, "update piece")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("piece", p.ID)
	}
	return nil
}

func (r pieceRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM pieces WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete piece")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("piece", id)
	}
	return nil
}

func (r pieceRepo) ListByParcel(ctx context.Context, parcelID int64) ([]*models.Piece, error) {
	return r.list(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE parcel_id = $1 ORDER BY parcel_id, number FOR UPDATE`, parcelID)
}

func (r pieceRepo) ListByBox(ctx context.Context, boxID int64) ([]*models.Piece, error) {
	return r.list(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE box_id = $1 ORDER BY parcel_id, number FOR UPDATE`, boxID)
}

func (r pieceRepo) list(ctx context.Context, q string, args ...any) ([]*models.Piece, error) {
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select pieces")
	}
	defer rows.Close()

	out := []*models.Piece{}
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan piece")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type boxRepo struct{ tx pgx.Tx }

const boxColumns = `id, lot_id, shipment_id, label, allowed_agent_codes, created_at`

func scanBox(row scanner) (*models.Box, error) {
	var b models.Box
	if err := row.Scan(&b.ID, &b.LotID, &b.ShipmentID, &b.Label, &b.AllowedAgentCodes, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func codesArg(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

func (r boxRepo) Create(ctx context.Context, b *models.Box) error {
	err := r.tx.QueryRow(ctx, `
INSERT INTO boxes (lot_id, shipment_id, label, allowed_agent_codes, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, b.LotID, b.ShipmentID, b.Label, codesArg(b.AllowedAgentCodes), b.CreatedAt).Scan(&b.ID)
	return errors.Wrap(err, "insert box")
}

func (r boxRepo) Get(ctx context.Context, id int64) (*models.Box, error) {
	b, err := scanBox(r.tx.QueryRow(ctx, `SELECT `+boxColumns+` FROM boxes WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("box", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select box")
	}
	return b, nil
}

func (r boxRepo) Update(ctx context.Context, b *models.Box) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE boxes SET lot_id = $2, shipment_id = $3, label = $4, allowed_agent_codes = $5 WHERE id = $1
`, b.ID, b.LotID, b.ShipmentID, b.Label, codesArg(b.AllowedAgentCodes))
	if err != nil {
		return errors.Wrap(err, "update box")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("box", b.ID)
	}
	return nil
}

func (r boxRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM boxes WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete box")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("box", id)
	}
	return nil
}

func (r boxRepo) ListByShipment(ctx context.Context, shipmentID int64) ([]*models.Box, error) {
	return r.list(ctx, `SELECT `+boxColumns+` FROM boxes WHERE shipment_id = $1 ORDER BY id`, shipmentID)
}

func (r boxRepo) ListByLot(ctx context.Context, lotID int64) ([]*models.Box, error) {
	return r.list(ctx, `SELECT `+boxColumns+` FROM boxes WHERE lot_id = $1 ORDER BY id`, lotID)
}

func (r boxRepo) list(ctx context.Context, q string, args ...any) ([]*models.Box, error) {
	rows, err := r.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select boxes")
	}
	defer rows.Close()

	out := []*models.Box{}
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan box")
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (r boxRepo) CreateLot(ctx context.Context, l *models.Lot) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO lots (committed_at, created_at) VALUES ($1,$2) RETURNING id`,
		l.CommittedAt, l.CreatedAt).Scan(&l.ID)
	return errors.Wrap(err, "insert lot")
}

func (r boxRepo) GetLot(ctx context.Context, id int64) (*models.Lot, error) {
	var l models.Lot
	err := r.tx.QueryRow(ctx, `SELECT id, committed_at, created_at FROM lots WHERE id = $1 FOR UPDATE`, id).
		Scan(&l.ID, &l.CommittedAt, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lot", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select lot")
	}
	return &l, nil
}

func (r boxRepo) UpdateLot(ctx context.Context, l *models.Lot) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET committed_at = $2 WHERE id = $1`, l.ID, l.CommittedAt)
	if err != nil {
		return errors.Wrap(err, "update lot")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lot", l.ID)
	}
	return nil
}

func (r boxRepo) CreateShipment(ctx context.Context, s *models.Shipment) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO shipments (committed_at, created_at) VALUES ($1,$2) RETURNING id`,
		s.CommittedAt, s.CreatedAt).Scan(&s.ID)
	return errors.Wrap(err, "insert shipment")
}

func (r boxRepo) GetShipment(ctx context.Context, id int64) (*models.Shipment, error) {
	var s models.Shipment
	err := r.tx.QueryRow(ctx, `SELECT id, committed_at, created_at FROM shipments WHERE id = $1 FOR UPDATE`, id).
		Scan(&s.ID, &s.CommittedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("shipment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return &s, nil
}

func (r boxRepo) UpdateShipment(ctx context.Context, s *models.Shipment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE shipments SET committed_at = $2 WHERE id = $1`, s.ID, s.CommittedAt)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("shipment", s.ID)
	}
	return nil
}
