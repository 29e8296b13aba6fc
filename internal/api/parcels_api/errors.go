package parcels_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BearBump/ParcelBox/internal/apperr"
	"github.com/BearBump/ParcelBox/internal/models"
)

type errorBody struct {
	Code            string   `json:"code"`
	Kind            string   `json:"kind"`
	Message         string   `json:"message,omitempty"`
	TrackingNumbers []string `json:"trackingNumbers,omitempty"`
	IDs             []int64  `json:"ids,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConsistency:
		return http.StatusConflict
	case apperr.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case apperr.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "Internal", Kind: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(e.Kind), errorBody{
		Code:            e.Code,
		Kind:            e.Kind.String(),
		Message:         e.Message,
		TrackingNumbers: e.TrackingNumbers,
		IDs:             e.IDs,
	})
}

func (a *ParcelsAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == 0 {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, err)
}

func (a *ParcelsAPI) done(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func contextWithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(r *http.Request) models.Actor {
	a, _ := r.Context().Value(actorKey{}).(models.Actor)
	return a
}
