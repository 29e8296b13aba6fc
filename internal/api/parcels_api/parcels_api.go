package parcels_api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/broker/messages"
	"github.com/BearBump/ParcelBox/internal/consolidation"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/requests"
	"github.com/BearBump/ParcelBox/internal/services/parcels"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const (
	HeaderActorKind = "X-Actor-Kind"
	HeaderActorID   = "X-Actor-Id"
)

type ParcelsAPI struct {
	svc      *parcels.Service
	validate *validator.Validate
	logger   *slog.Logger
}

func New(svc *parcels.Service, logger *slog.Logger) *ParcelsAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParcelsAPI{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "parcels_api"),
	}
}

func (a *ParcelsAPI) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/parcels/{id}", a.getParcel)
	r.Get("/parcels/{id}/timeline", a.parcelTimeline)
	r.Get("/timeline", a.timeline)
	r.Get("/reports/inconsistent-chains", a.inconsistentChains)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Post("/parcels", a.registerParcel)
		r.Post("/parcels/pack", a.moveToPacked)
		r.Post("/parcels/{id}/status", a.changeStatus)
		r.Put("/parcels/{id}/agent-code", a.assignAgentCode)
		r.Post("/parcels/{id}/chain", a.mergeIntoChain)
		r.Post("/parcels/{id}/split-chain", a.splitFromChain)
		r.Post("/parcels/{id}/pieces", a.setPieceCount)
		r.Put("/parcels/{id}/hold", a.setHoldState)
		r.Post("/parcels/{id}/broken-product", a.flagBrokenProduct)
		r.Post("/parcels/{id}/broken-product/feedback", a.brokenProductFeedback)
		r.Post("/parcels/{id}/broken-product/check", a.checkBrokenProduct)
		r.Delete("/parcels/{id}", a.deleteParcel)

		r.Post("/scans", a.warehouseScan)

		r.Post("/lots", a.createLot)
		r.Post("/lots/{id}/commit", a.commitLot)
		r.Post("/shipments", a.createShipment)
		r.Post("/shipments/{id}/commit", a.commitShipment)

		r.Post("/boxes", a.createBox)
		r.Delete("/boxes/{id}", a.deleteBox)
		r.Post("/boxes/{id}/pieces", a.addPieceToBox)
		r.Post("/boxes/{id}/move", a.moveToNewBox)
		r.Post("/boxes/{id}/shipment", a.attachBoxToShipment)
		r.Delete("/pieces/{id}/box", a.removePieceFromBox)
		r.Post("/pieces/{id}/received", a.receivePiece)

		r.Post("/requests", a.createRequests)
		r.Post("/requests/{id}/actual-quantity", a.submitActualQuantity)
		r.Delete("/requests/{id}", a.deleteRequest)
	})

	return r
}

type actorKey struct{}

func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			Kind: models.ActorKind(r.Header.Get(HeaderActorKind)),
			ID:   r.Header.Get(HeaderActorID),
		}
		if !actor.Valid() {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Code:    "ActorRequired",
				Kind:    apperr.KindValidation.String(),
				Message: "X-Actor-Kind (user|buyer|agent) and X-Actor-Id headers are required",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithActor(r.Context(), actor)))
	})
}

type registerParcelReq struct {
	TrackingNumber string  `json:"trackingNumber" validate:"required,max=64"`
	AlternativeRef *string `json:"alternativeRef,omitempty" validate:"omitempty,max=64"`
	WarehouseID    *int64  `json:"warehouseId,omitempty" validate:"omitempty,gt=0"`
	Quantity       int     `json:"quantity" validate:"gte=0"`
}

func (a *ParcelsAPI) registerParcel(w http.ResponseWriter, r *http.Request) {
	var req registerParcelReq
	if !a.decode(w, r, &req) {
		return
	}
	p, err := a.svc.RegisterParcel(r.Context(), actorFrom(r), models.ParcelCreateInput{
		TrackingNumber: req.TrackingNumber,
		AlternativeRef: req.AlternativeRef,
		WarehouseID:    req.WarehouseID,
		Quantity:       req.Quantity,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *ParcelsAPI) getParcel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := a.svc.GetParcel(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type timelineEntry struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Actor     models.Actor    `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"createdAt"`
}

func (a *ParcelsAPI) parcelTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.writeTimeline(w, r, audit.Filter{ParcelID: id})
}

// timeline filters by any of parcelId, pieceId, boxId, requestId, buyerId, shipmentId.
func (a *ParcelsAPI) timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f audit.Filter
	for name, dst := range map[string]*int64{
		"parcelId":   &f.ParcelID,
		"pieceId":    &f.PieceID,
		"boxId":      &f.BoxID,
		"requestId":  &f.RequestID,
		"buyerId":    &f.BuyerID,
		"shipmentId": &f.ShipmentID,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			a.fail(w, r, apperr.ErrInvalidArgument.New("bad %s %q", name, raw))
			return
		}
		*dst = v
	}
	a.writeTimeline(w, r, f)
}

func (a *ParcelsAPI) writeTimeline(w http.ResponseWriter, r *http.Request, f audit.Filter) {
	limit, offset, ok := a.paging(w, r)
	if !ok {
		return
	}
	entries, err := a.svc.Timeline(r.Context(), f, limit, offset)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]timelineEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, timelineEntry{
			ID:        e.Record.ID,
			Kind:      e.Record.Kind,
			Actor:     e.Record.Actor,
			Payload:   e.Record.Payload,
			CreatedAt: e.Record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type changeStatusReq struct {
	Status string `json:"status" validate:"required"`
}

func (a *ParcelsAPI) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req changeStatusReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.ChangeStatus(r.Context(), actorFrom(r), id, req.Status))
}

type agentCodeReq struct {
	AgentCode *string `json:"agentCode" validate:"omitempty,max=32"`
}

func (a *ParcelsAPI) assignAgentCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req agentCodeReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.AssignAgentCode(r.Context(), actorFrom(r), id, req.AgentCode))
}

type chainReq struct {
	Candidate string `json:"candidate" validate:"required"`
}

func (a *ParcelsAPI) mergeIntoChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req chainReq
	if !a.decode(w, r, &req) {
		return
	}
	token, err := a.svc.MergeIntoChain(r.Context(), actorFrom(r), id, req.Candidate)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chain": token})
}

func (a *ParcelsAPI) splitFromChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.SplitFromChain(r.Context(), actorFrom(r), id))
}

type packReq struct {
	ParcelIDs []int64 `json:"parcelIds" validate:"required,min=1,dive,gt=0"`
}

func (a *ParcelsAPI) moveToPacked(w http.ResponseWriter, r *http.Request) {
	var req packReq
	if !a.decode(w, r, &req) {
		return
	}
	token, err := a.svc.MoveToPacked(r.Context(), actorFrom(r), req.ParcelIDs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chain": token})
}

type pieceCountReq struct {
	Count int `json:"count" validate:"gte=1,lte=100"`
}

func (a *ParcelsAPI) setPieceCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req pieceCountReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.SetPieceCount(r.Context(), actorFrom(r), id, req.Count))
}

type holdReq struct {
	State models.HoldState `json:"state" validate:"omitempty,oneof=hold processed returnProduct"`
}

func (a *ParcelsAPI) setHoldState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req holdReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.SetHoldState(r.Context(), actorFrom(r), id, req.State))
}

type brokenProductReq struct {
	Description   string `json:"description" validate:"required,max=2000"`
	CameraChannel string `json:"cameraChannel" validate:"max=64"`
}

func (a *ParcelsAPI) flagBrokenProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req brokenProductReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.FlagBrokenProduct(r.Context(), actorFrom(r), id, req.Description, req.CameraChannel))
}

type feedbackReq struct {
	Feedback string `json:"feedback" validate:"required,max=2000"`
}

func (a *ParcelsAPI) brokenProductFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req feedbackReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.RecordBrokenProductFeedback(r.Context(), actorFrom(r), id, req.Feedback))
}

func (a *ParcelsAPI) checkBrokenProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.CheckBrokenProduct(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) deleteParcel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.DeleteParcel(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) warehouseScan(w http.ResponseWriter, r *http.Request) {
	var msg messages.WarehouseScan
	if !a.decode(w, r, &msg) {
		return
	}
	p, err := a.svc.ApplyWarehouseScan(r.Context(), actorFrom(r), msg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *ParcelsAPI) createLot(w http.ResponseWriter, r *http.Request) {
	l, err := a.svc.CreateLot(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *ParcelsAPI) commitLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.CommitLot(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) createShipment(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.CreateShipment(r.Context(), actorFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *ParcelsAPI) commitShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.CommitShipment(r.Context(), actorFrom(r), id))
}

type boxReq struct {
	LotID             int64    `json:"lotId" validate:"required,gt=0"`
	ShipmentID        *int64   `json:"shipmentId,omitempty" validate:"omitempty,gt=0"`
	Label             string   `json:"label" validate:"max=64"`
	AllowedAgentCodes []string `json:"allowedAgentCodes" validate:"dive,required,max=32"`
}

func (a *ParcelsAPI) createBox(w http.ResponseWriter, r *http.Request) {
	var req boxReq
	if !a.decode(w, r, &req) {
		return
	}
	b, err := a.svc.CreateBox(r.Context(), actorFrom(r), consolidation.BoxInput{
		LotID:             req.LotID,
		ShipmentID:        req.ShipmentID,
		Label:             req.Label,
		AllowedAgentCodes: req.AllowedAgentCodes,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (a *ParcelsAPI) deleteBox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.DeleteBox(r.Context(), actorFrom(r), id))
}

type addPieceReq struct {
	ParcelID int64  `json:"parcelId" validate:"required,gt=0"`
	PieceID  *int64 `json:"pieceId,omitempty" validate:"omitempty,gt=0"`
}

func (a *ParcelsAPI) addPieceToBox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req addPieceReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.AddPieceToBox(r.Context(), actorFrom(r), req.ParcelID, req.PieceID, id))
}

type moveReq struct {
	PieceIDs []int64 `json:"pieceIds" validate:"required,min=1,dive,gt=0"`
}

func (a *ParcelsAPI) moveToNewBox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req moveReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.MoveToNewBox(r.Context(), actorFrom(r), req.PieceIDs, id))
}

type attachReq struct {
	ShipmentID int64 `json:"shipmentId" validate:"required,gt=0"`
}

func (a *ParcelsAPI) attachBoxToShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req attachReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.AttachBoxToShipment(r.Context(), actorFrom(r), id, req.ShipmentID))
}

func (a *ParcelsAPI) removePieceFromBox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.RemovePieceFromBox(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) receivePiece(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.ReceivePieceAtVN(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) inconsistentChains(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.InconsistentChains(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if out == nil {
		out = []consolidation.ChainReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": out})
}

type createRequestsReq struct {
	BuyerID         int64              `json:"buyerId" validate:"required,gt=0"`
	Type            models.RequestType `json:"type" validate:"required"`
	TrackingNumbers []string           `json:"trackingNumbers" validate:"required,min=1,dive,required,max=64"`
	Quantity        int                `json:"quantity" validate:"gte=0"`
	Note            string             `json:"note" validate:"max=2000"`
}

func (a *ParcelsAPI) createRequests(w http.ResponseWriter, r *http.Request) {
	var req createRequestsReq
	if !a.decode(w, r, &req) {
		return
	}
	out, err := a.svc.CreateRequests(r.Context(), actorFrom(r), requests.CreateInput{
		BuyerID:         req.BuyerID,
		Type:            req.Type,
		TrackingNumbers: req.TrackingNumbers,
		Quantity:        req.Quantity,
		Note:            req.Note,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"requests": out})
}

type actualQuantityReq struct {
	ActualQuantity int `json:"actualQuantity" validate:"gte=0"`
}

func (a *ParcelsAPI) submitActualQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req actualQuantityReq
	if !a.decode(w, r, &req) {
		return
	}
	a.done(w, r, a.svc.SubmitActualQuantity(r.Context(), actorFrom(r), id, req.ActualQuantity))
}

func (a *ParcelsAPI) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a.done(w, r, a.svc.DeleteRequests(r.Context(), actorFrom(r), id))
}

func (a *ParcelsAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.fail(w, r, apperr.ErrInvalidArgument.New("bad json: %v", err))
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			a.fail(w, r, apperr.ErrInvalidArgument.New("field %s failed %q", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		a.fail(w, r, apperr.ErrInvalidArgument.New("%v", err))
		return false
	}
	return true
}

func (a *ParcelsAPI) paging(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			a.fail(w, r, apperr.ErrInvalidArgument.New("bad %s %q", name, raw))
			return 0, 0, false
		}
		*dst = v
	}
	return limit, offset, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, apperr.ErrInvalidArgument.New("bad id %q", raw))
		return 0, false
	}
	return id, true
}
