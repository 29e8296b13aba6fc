package consolidation

import (
	"context"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/jobs"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/store"
	"github.com/pkg/errors"
)

// AddPieceToBox boxes a piece. For a single-piece parcel the whole chain goes into the box and
// every member moves to boxed; for a multi-piece parcel pieceID is required and only that piece
// is boxed.
func (c *Consolidator) AddPieceToBox(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, pieceID *int64, boxID int64) ([]jobs.Job, error) {
	box, err := openBox(ctx, tx, boxID)
	if err != nil {
		return nil, err
	}
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	self, err := loadMember(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if len(self.pieces) == 0 {
		return nil, apperr.ErrNotFound.New("parcel %s has no pieces", p.TrackingNumber).WithIDs(p.ID)
	}

	if !self.single() {
		if pieceID == nil {
			return nil, apperr.ErrPieceIDRequired.
				New("parcel %s has %d pieces", p.TrackingNumber, len(self.pieces)).
				WithTrackingNumbers(p.TrackingNumber)
		}
		piece, err := pieceOf(self, *pieceID)
		if err != nil {
			return nil, err
		}
		if err := onHold(p); err != nil {
			return nil, err
		}
		if !box.AllowsAgentCode(p.AgentCode) {
			return nil, mismatch(box, p.TrackingNumber)
		}
		if piece.Boxed() {
			return nil, apperr.ErrAlreadyBoxed.New("piece %d is in box %d", piece.ID, *piece.BoxID).
				WithTrackingNumbers(p.TrackingNumber).WithIDs(piece.ID)
		}
		return nil, c.boxPiece(ctx, tx, actor, piece, box)
	}

	if pieceID != nil && *pieceID != self.pieces[0].ID {
		return nil, apperr.ErrPieceParcelMismatch.New("piece %d does not belong to parcel %s", *pieceID, p.TrackingNumber).
			WithTrackingNumbers(p.TrackingNumber).WithIDs(*pieceID)
	}
	if self.pieces[0].Boxed() {
		return nil, apperr.ErrAlreadyBoxed.New("parcel %s is already boxed", p.TrackingNumber).
			WithTrackingNumbers(p.TrackingNumber).WithIDs(self.pieces[0].ID)
	}

	ch, err := loadChain(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	members := ch.SinglePiece()
	if err := onHold(parcelsOf(members)...); err != nil {
		return nil, err
	}

	// сначала проверяем всю цепочку, потом меняем
	var wrongAgent, boxed []string
	for _, m := range members {
		if !box.AllowsAgentCode(m.parcel.AgentCode) {
			wrongAgent = append(wrongAgent, m.parcel.TrackingNumber)
		}
		if m.pieces[0].Boxed() {
			boxed = append(boxed, m.parcel.TrackingNumber)
		}
	}
	if len(wrongAgent) > 0 {
		return nil, mismatch(box, wrongAgent...)
	}
	if len(boxed) > 0 {
		return nil, apperr.ErrAlreadyBoxed.New("chain members already boxed").WithTrackingNumbers(boxed...)
	}

	var out []jobs.Job
	for _, m := range members {
		if err := c.boxPiece(ctx, tx, actor, m.pieces[0], box); err != nil {
			return nil, err
		}
		js, err := c.engine.MoveToStatus(ctx, tx, actor, m.parcel, status.Boxed)
		if err != nil {
			return nil, err
		}
		out = append(out, js...)
	}
	return out, nil
}

// RemovePieceFromBox reverses AddPieceToBox. Members already past boxed keep both their piece
// and their status.
func (c *Consolidator) RemovePieceFromBox(ctx context.Context, tx store.Tx, actor models.Actor, pieceID int64) ([]jobs.Job, error) {
	piece, err := tx.Pieces().Get(ctx, pieceID)
	if err != nil {
		return nil, err
	}
	if !piece.Boxed() {
		return nil, apperr.ErrPieceNotBoxed.New("piece %d is not in a box", pieceID).WithIDs(pieceID)
	}
	if _, err := openBox(ctx, tx, *piece.BoxID); err != nil {
		return nil, err
	}
	p, err := c.liveParcel(ctx, tx, piece.ParcelID)
	if err != nil {
		return nil, err
	}
	self, err := loadMember(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if !self.single() {
		return nil, c.unboxPiece(ctx, tx, actor, piece)
	}

	ch, err := loadChain(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	var targets []member
	for _, m := range ch.SinglePiece() {
		if !m.pieces[0].Boxed() || status.Of(m.parcel).Power() > status.Boxed.Power() {
			continue
		}
		if _, err := openBox(ctx, tx, *m.pieces[0].BoxID); err != nil {
			return nil, err
		}
		targets = append(targets, m)
	}

	var out []jobs.Job
	for _, m := range targets {
		if err := c.unboxPiece(ctx, tx, actor, m.pieces[0]); err != nil {
			return nil, err
		}
		if status.Of(m.parcel) != status.Boxed {
			continue
		}
		js, err := c.engine.MoveToStatus(ctx, tx, actor, m.parcel, status.Repacked)
		if err != nil {
			return nil, err
		}
		out = append(out, js...)
	}
	return out, nil
}

// MergeIntoChain attaches the parcel to candidate, or to a fresh chain when candidate is empty.
// Returns the resulting token.
func (c *Consolidator) MergeIntoChain(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64, candidate string) (string, error) {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return "", err
	}
	self, err := loadMember(ctx, tx, p)
	if err != nil {
		return "", err
	}
	for _, pc := range self.pieces {
		if pc.Boxed() {
			return "", apperr.ErrAlreadyBoxed.New("parcel %s has boxed pieces", p.TrackingNumber).
				WithTrackingNumbers(p.TrackingNumber)
		}
	}

	if candidate == "" {
		token := c.newToken()
		return token, c.rechain(ctx, tx, actor, p, token)
	}
	if candidate == p.Chain {
		return candidate, nil
	}
	if !self.single() {
		return "", apperr.ErrMultiPieceChain.New("parcel %s has %d pieces", p.TrackingNumber, len(self.pieces)).
			WithTrackingNumbers(p.TrackingNumber)
	}

	others, err := tx.Parcels().ListByChain(ctx, candidate)
	if err != nil {
		return "", errors.Wrap(err, "list chain")
	}
	target := &Chain{Token: candidate}
	for _, o := range others {
		m, err := loadMember(ctx, tx, o)
		if err != nil {
			return "", err
		}
		target.Members = append(target.Members, m)
	}
	var multi []string
	for _, m := range target.Members {
		if !m.single() {
			multi = append(multi, m.parcel.TrackingNumber)
		}
	}
	if len(multi) > 0 {
		return "", apperr.ErrMultiPieceChain.New("chain %s holds a parcel with several pieces", candidate).
			WithTrackingNumbers(append([]string{p.TrackingNumber}, multi...)...)
	}
	if len(target.Members) == 0 || !target.ConsistentWith(p.AgentCode, p.ID) {
		return "", apperr.ErrInvalidAgentCodeForChain.
			New("no live member of chain %s has agent code %q", candidate, p.AgentCodeValue()).
			WithTrackingNumbers(append([]string{p.TrackingNumber}, target.TrackingNumbers()...)...)
	}
	var boxed []string
	for _, m := range target.Members {
		for _, pc := range m.pieces {
			if pc.Boxed() {
				boxed = append(boxed, m.parcel.TrackingNumber)
				break
			}
		}
	}
	if len(boxed) > 0 {
		return "", apperr.ErrAlreadyBoxed.New("chain %s is already boxed", candidate).WithTrackingNumbers(boxed...)
	}
	return candidate, c.rechain(ctx, tx, actor, p, candidate)
}

// SplitFromChain takes a boxed single-piece parcel out of its chain and its box.
func (c *Consolidator) SplitFromChain(ctx context.Context, tx store.Tx, actor models.Actor, parcelID int64) ([]jobs.Job, error) {
	p, err := c.liveParcel(ctx, tx, parcelID)
	if err != nil {
		return nil, err
	}
	self, err := loadMember(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if st := status.Of(p); st != status.Boxed || !self.single() {
		return nil, apperr.ErrInvalidSplit.
			New("parcel %s is %s with %d pieces", p.TrackingNumber, st, len(self.pieces)).
			WithTrackingNumbers(p.TrackingNumber)
	}
	piece := self.pieces[0]
	if piece.Boxed() {
		if _, err := openBox(ctx, tx, *piece.BoxID); err != nil {
			return nil, err
		}
	}

	if err := c.rechain(ctx, tx, actor, p, c.newToken()); err != nil {
		return nil, err
	}
	if piece.Boxed() {
		if err := c.unboxPiece(ctx, tx, actor, piece); err != nil {
			return nil, err
		}
	}
	return c.engine.MoveToStatus(ctx, tx, actor, p, status.Repacked)
}

// MoveToNewBox re-boxes pieces into dest. Single-piece parcels bring their whole chain along.
// Every affected parcel is checked against dest before anything changes.
func (c *Consolidator) MoveToNewBox(ctx context.Context, tx store.Tx, actor models.Actor, pieceIDs []int64, destID int64) ([]jobs.Job, error) {
	if len(pieceIDs) == 0 {
		return nil, apperr.ErrInvalidArgument.New("no pieces to move")
	}
	dest, err := openBox(ctx, tx, destID)
	if err != nil {
		return nil, err
	}

	type target struct {
		piece  *models.Piece
		owner  member
		single bool
	}
	var targets []target
	seen := map[int64]bool{}
	add := func(pc *models.Piece, m member) {
		if seen[pc.ID] {
			return
		}
		seen[pc.ID] = true
		targets = append(targets, target{piece: pc, owner: m, single: m.single()})
	}

	for _, id := range pieceIDs {
		if seen[id] {
			continue
		}
		pc, err := tx.Pieces().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		p, err := c.liveParcel(ctx, tx, pc.ParcelID)
		if err != nil {
			return nil, err
		}
		m, err := loadMember(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		if !m.single() {
			piece, err := pieceOf(m, id)
			if err != nil {
				return nil, err
			}
			add(piece, m)
			continue
		}
		ch, err := loadChain(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		for _, cm := range ch.SinglePiece() {
			add(cm.pieces[0], cm)
		}
	}

	owners := make([]*models.Parcel, 0, len(targets))
	for _, t := range targets {
		owners = append(owners, t.owner.parcel)
	}
	if err := onHold(owners...); err != nil {
		return nil, err
	}

	var wrongAgent []string
	for _, t := range targets {
		if !dest.AllowsAgentCode(t.owner.parcel.AgentCode) {
			wrongAgent = append(wrongAgent, t.owner.parcel.TrackingNumber)
		}
		if t.piece.Boxed() && *t.piece.BoxID != destID {
			if _, err := openBox(ctx, tx, *t.piece.BoxID); err != nil {
				return nil, err
			}
		}
	}
	if len(wrongAgent) > 0 {
		return nil, mismatch(dest, wrongAgent...)
	}

	var out []jobs.Job
	for _, t := range targets {
		switch {
		case t.piece.Boxed() && *t.piece.BoxID == destID:
			continue
		case t.piece.Boxed():
			from := *t.piece.BoxID
			t.piece.BoxID = &destID
			at := c.now()
			t.piece.BoxedAt = &at
			if err := tx.Pieces().Update(ctx, t.piece); err != nil {
				return nil, errors.Wrap(err, "update piece")
			}
			if err := c.record(ctx, tx, actor, audit.PieceMoved{
				PieceID: t.piece.ID, ParcelID: t.piece.ParcelID, FromBoxID: from, BoxID: destID,
			}); err != nil {
				return nil, err
			}
		default:
			if err := c.boxPiece(ctx, tx, actor, t.piece, dest); err != nil {
				return nil, err
			}
			if !t.single {
				continue
			}
			js, err := c.engine.MoveToStatus(ctx, tx, actor, t.owner.parcel, status.Boxed)
			if err != nil {
				return nil, err
			}
			out = append(out, js...)
		}
	}
	return out, nil
}

// DeleteBox empties and removes an uncommitted box. Parcels still at boxed revert to repacked;
// parcels that progressed further only lose their boxedAt mark and keep their status.
func (c *Consolidator) DeleteBox(ctx context.Context, tx store.Tx, actor models.Actor, boxID int64) ([]jobs.Job, error) {
	if _, err := openBox(ctx, tx, boxID); err != nil {
		return nil, err
	}
	pieces, err := tx.Pieces().ListByBox(ctx, boxID)
	if err != nil {
		return nil, errors.Wrap(err, "list box pieces")
	}

	var parcelIDs []int64
	seen := map[int64]bool{}
	for _, pc := range pieces {
		pc.BoxID = nil
		pc.BoxedAt = nil
		if err := tx.Pieces().Update(ctx, pc); err != nil {
			return nil, errors.Wrap(err, "update piece")
		}
		if !seen[pc.ParcelID] {
			seen[pc.ParcelID] = true
			parcelIDs = append(parcelIDs, pc.ParcelID)
		}
	}

	var out []jobs.Job
	for _, id := range parcelIDs {
		p, err := tx.Parcels().Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch st := status.Of(p); {
		case st == status.Boxed:
			js, err := c.engine.MoveToStatus(ctx, tx, actor, p, status.Repacked)
			if err != nil {
				return nil, err
			}
			out = append(out, js...)
		case p.BoxedAt != nil:
			p.BoxedAt = nil
			if err := c.touch(ctx, tx, p); err != nil {
				return nil, err
			}
			if err := c.record(ctx, tx, actor, audit.ParcelBoxCleared{ParcelID: p.ID, BoxID: boxID}); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Boxes().Delete(ctx, boxID); err != nil {
		return nil, errors.Wrap(err, "delete box")
	}
	if err := c.record(ctx, tx, actor, audit.BoxDeleted{BoxID: boxID, ParcelIDs: parcelIDs}); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Consolidator) boxPiece(ctx context.Context, tx store.Tx, actor models.Actor, piece *models.Piece, box *models.Box) error {
	at := c.now()
	id := box.ID
	piece.BoxID = &id
	piece.BoxedAt = &at
	if err := tx.Pieces().Update(ctx, piece); err != nil {
		return errors.Wrap(err, "update piece")
	}
	return c.record(ctx, tx, actor, audit.PieceBoxed{PieceID: piece.ID, ParcelID: piece.ParcelID, BoxID: box.ID})
}

func (c *Consolidator) unboxPiece(ctx context.Context, tx store.Tx, actor models.Actor, piece *models.Piece) error {
	boxID := *piece.BoxID
	piece.BoxID = nil
	piece.BoxedAt = nil
	if err := tx.Pieces().Update(ctx, piece); err != nil {
		return errors.Wrap(err, "update piece")
	}
	return c.record(ctx, tx, actor, audit.PieceUnboxed{PieceID: piece.ID, ParcelID: piece.ParcelID, BoxID: boxID})
}

func (c *Consolidator) rechain(ctx context.Context, tx store.Tx, actor models.Actor, p *models.Parcel, token string) error {
	from := p.Chain
	p.Chain = token
	if err := c.touch(ctx, tx, p); err != nil {
		return err
	}
	return c.record(ctx, tx, actor, audit.ParcelChainChanged{ParcelID: p.ID, From: from, To: token})
}

func pieceOf(m member, pieceID int64) (*models.Piece, error) {
	for _, pc := range m.pieces {
		if pc.ID == pieceID {
			return pc, nil
		}
	}
	return nil, apperr.ErrPieceParcelMismatch.
		New("piece %d does not belong to parcel %s", pieceID, m.parcel.TrackingNumber).
		WithTrackingNumbers(m.parcel.TrackingNumber).WithIDs(pieceID)
}

func mismatch(box *models.Box, tns ...string) error {
	return apperr.ErrAgentCodeMismatch.
		New("box %d accepts agent codes %v", box.ID, box.AllowedAgentCodes).
		WithTrackingNumbers(tns...).WithIDs(box.ID)
}
