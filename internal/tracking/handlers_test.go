package tracking

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-convoyhub/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func newApp(svc *Service) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	RegisterRoutes(app.Group("/trip"), svc)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestLocationHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(upsertSQL).
		WithArgs("AB12CD", "member-1", 1.5, 2.5, 0.0, 3.0, "online", pgxmock.AnyArg(), int64(1714564800000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	app := newApp(newTestService(mock))

	resp := postJSON(t, app, "/trip/ab12cd/location", `{"userId":"member-1","latitude":1.5,"longitude":2.5,"speed":3,"timestamp":1714564800000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["success"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLocationHandlerErrors(t *testing.T) {
	app := newApp(newTestService(newMock(t)))

	cases := []struct {
		path   string
		body   string
		status int
	}{
		{"/trip/AB12CD/location", `{"latitude":1,"longitude":2}`, http.StatusBadRequest},
		{"/trip/AB12CD/location", `{"userId":"member-1","longitude":2}`, http.StatusBadRequest},
		{"/trip/AB12CD/location", `{"userId":"member-1","latitude":100,"longitude":2}`, http.StatusBadRequest},
		{"/trip/AB12CD/location", `{"userId":"member-1","latitude":1,"longitude":2,"status":"lost"}`, http.StatusBadRequest},
		{"/trip/AB12CD/location", `{"userId":"stranger","latitude":1,"longitude":2}`, http.StatusForbidden},
		{"/trip/NOPE00/location", `{"userId":"member-1","latitude":1,"longitude":2}`, http.StatusNotFound},
		{"/trip/AB12CD/relay", `{"userId":"member-1","latitude":1,"longitude":2,"relayedBy":"member-1"}`, http.StatusForbidden},
		{"/trip/AB12CD/relay", `{"userId":"member-1","latitude":1,"longitude":2}`, http.StatusBadRequest},
		{"/trip/NOPE00/relay", `{"userId":"member-1","latitude":1,"longitude":2,"relayedBy":"host-1"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := postJSON(t, app, tc.path, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body, tc.status, resp.StatusCode)
		}
		var body map[string]string
		decode(t, resp, &body)
		if body["error"] == "" {
			t.Fatalf("expected error message for %s", tc.body)
		}
	}
}

func TestRelayHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(upsertSQL).
		WithArgs("AB12CD", "offline-1", 1.0, 2.0, 0.0, 0.0, "bridged", pgxmock.AnyArg(), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	app := newApp(newTestService(mock))

	resp := postJSON(t, app, "/trip/AB12CD/relay", `{"userId":"offline-1","latitude":1,"longitude":2,"relayedBy":"host-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["success"] != true || body["message"] != "Location relayed via SMS bridge" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLocationsHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT member_id, latitude, longitude`).
		WithArgs("AB12CD").
		WillReturnRows(pgxmock.NewRows([]string{"member_id", "latitude", "longitude", "heading", "speed", "status", "recorded_at", "sampled_at"}).
			AddRow("member-1", 1.0, 2.0, 45.0, 10.0, "online", fixedNow.Add(-time.Minute), int64(1714564740000)))
	app := newApp(newTestService(mock))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/trip/AB12CD/locations", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("locations status: %v", err)
	}
	var body []map[string]any
	decode(t, resp, &body)
	if len(body) != 1 || body[0]["userId"] != "member-1" || body[0]["status"] != "online" || body[0]["sampledAt"] != float64(1714564740000) {
		t.Fatalf("unexpected body %v", body)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/trip/NOPE00/locations", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLastKnownHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT latitude, longitude`).
		WithArgs("AB12CD", "member-1").
		WillReturnRows(pgxmock.NewRows([]string{"latitude", "longitude"}).AddRow(1.0, 2.0))
	app := newApp(newTestService(mock))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/trip/AB12CD/locations/member-1", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("last known status: %v", err)
	}
	var body LastKnown
	decode(t, resp, &body)
	if body.MemberID != "member-1" || body.Latitude != 1.0 {
		t.Fatalf("unexpected body %+v", body)
	}
}
