package parcels_api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ParcelBox/internal/audit"
	"github.com/BearBump/ParcelBox/internal/consolidation"
	"github.com/BearBump/ParcelBox/internal/models"
	"github.com/BearBump/ParcelBox/internal/requests"
	"github.com/BearBump/ParcelBox/internal/services/parcels"
	"github.com/BearBump/ParcelBox/internal/status"
	"github.com/BearBump/ParcelBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t   *testing.T
	st  *memstore.Store
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	log := audit.NewLog(clock)
	cons := consolidation.New(status.NewEngine(log, clock), log)
	st := memstore.New()
	svc := parcels.New(st, cons, requests.New(cons, log), log, nil, 0, nil)

	srv := httptest.NewServer(New(svc, nil).Routes())
	t.Cleanup(srv.Close)
	return &harness{t: t, st: st, srv: srv}
}

func (h *harness) do(method, path string, body any, actor bool) (*http.Response, map[string]any) {
	h.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(h.t, err)
	if actor {
		req.Header.Set(HeaderActorKind, "user")
		req.Header.Set(HeaderActorID, "ops-1")
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (h *harness) register(tn string) int64 {
	h.t.Helper()
	resp, body := h.do(http.MethodPost, "/parcels", map[string]any{"trackingNumber": tn, "quantity": 1}, true)
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	return int64(body["id"].(float64))
}

func TestRegisterAndGet(t *testing.T) {
	h := newHarness(t)
	id := h.register("1Z999AA10123456784")

	resp, body := h.do(http.MethodGet, fmt.Sprintf("/parcels/%d", id), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1Z999AA10123456784", body["trackingNumber"])
	require.Equal(t, "registered", body["status"])
}

func TestActorRequiredForCommands(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(http.MethodPost, "/parcels", map[string]any{"trackingNumber": "TN-1"}, false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "ActorRequired", body["code"])
	require.Empty(t, h.st.OutboxJobs())
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	id := h.register("TN-ERR-000001")

	resp, body := h.do(http.MethodGet, "/parcels/9999", nil, false)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NotFound", body["code"])
	require.Equal(t, []any{float64(9999)}, body["ids"])

	resp, body = h.do(http.MethodPost, fmt.Sprintf("/parcels/%d/status", id), map[string]any{"status": "delivered"}, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "InvalidTransition", body["code"])
	require.Equal(t, []any{"TN-ERR-000001"}, body["trackingNumbers"])

	resp, body = h.do(http.MethodPost, "/parcels", map[string]any{"quantity": 1}, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation", body["kind"])

	resp, _ = h.do(http.MethodGet, "/parcels/abc", nil, false)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.st.PutBuyer(models.Buyer{ID: 7})
	resp, body = h.do(http.MethodPost, "/requests", map[string]any{
		"buyerId":         7,
		"type":            "specialRequest",
		"trackingNumbers": []string{"TN-ERR-000001"},
	}, true)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "InsufficientPackingRequestCredit", body["code"])
}

func TestStatusAndTimeline(t *testing.T) {
	h := newHarness(t)
	id := h.register("TN-TL-000001")

	resp, _ := h.do(http.MethodPost, fmt.Sprintf("/parcels/%d/status", id), map[string]any{"status": "receivedAtUSWarehouse"}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := h.do(http.MethodGet, fmt.Sprintf("/parcels/%d/timeline?limit=10", id), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 3)
	require.Equal(t, audit.KindParcelRegistered, items[0].(map[string]any)["kind"])
	last := items[2].(map[string]any)
	require.Equal(t, audit.KindParcelStatusChanged, last["kind"])
	require.Equal(t, "receivedAtUSWarehouse", last["payload"].(map[string]any)["to"])
	require.Equal(t, "ops-1", last["actor"].(map[string]any)["id"])

	resp, body = h.do(http.MethodGet, fmt.Sprintf("/timeline?parcelId=%d&offset=2", id), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["items"].([]any), 1)

	resp, _ = h.do(http.MethodGet, "/timeline", nil, false)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWarehouseScanRoute(t *testing.T) {
	h := newHarness(t)
	id := h.register("TN-SCAN-0001")

	resp, body := h.do(http.MethodPost, "/scans", map[string]any{"tracking_number": "tn-scan-0001", "image_count": 2}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(id), body["id"])
	require.Equal(t, status.ReceivedAtUSWarehouse, status.Of(h.st.Parcel(id)))
}

func TestBoxingFlow(t *testing.T) {
	h := newHarness(t)
	id := h.register("TN-BOX-000001")

	resp, _ := h.do(http.MethodPut, fmt.Sprintf("/parcels/%d/agent-code", id), map[string]any{"agentCode": "AG1"}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := h.do(http.MethodPost, "/parcels/pack", map[string]any{"parcelIds": []int64{id}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["chain"])

	resp, body = h.do(http.MethodPost, "/boxes", map[string]any{"label": "B-1", "allowedAgentCodes": []string{"AG1"}}, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(http.MethodPost, "/lots", nil, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	lotID := int64(body["id"].(float64))

	resp, body = h.do(http.MethodPost, "/boxes", map[string]any{"lotId": lotID, "label": "B-1", "allowedAgentCodes": []string{"AG1"}}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	boxID := int64(body["id"].(float64))

	resp, _ = h.do(http.MethodPost, fmt.Sprintf("/boxes/%d/pieces", boxID), map[string]any{"parcelId": id}, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, status.Boxed, status.Of(h.st.Parcel(id)))

	resp, body = h.do(http.MethodPost, fmt.Sprintf("/boxes/%d/pieces", boxID), map[string]any{"parcelId": id}, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = h.do(http.MethodGet, fmt.Sprintf("/timeline?boxId=%d", boxID), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["items"])

	resp, body = h.do(http.MethodGet, "/reports/inconsistent-chains", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["chains"])
}

func TestUnknownFieldsRejected(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(http.MethodPost, "/parcels", map[string]any{"trackingNumber": "TN-1", "colour": "red"}, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
