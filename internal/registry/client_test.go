package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/saviobatista/flight-registrar/internal/types"
)

// fakeRegistry is an in-process stand-in for the flight-registration service
type fakeRegistry struct {
	mu          sync.Mutex
	token       string
	lastFlight  map[string]interface{}
	lastAuth    string
	lastAPIKey  string
	failFlights bool
}

func (f *fakeRegistry) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/auth/v1/anonymous/token", f.login).Methods("POST")
	r.HandleFunc("/aircraft/v2/model", f.models).Methods("GET").Queries("manufacturer", "{manufacturer}")
	r.HandleFunc("/pilot/v2/aircraft", f.createAircraft).Methods("POST")
	r.HandleFunc("/flight/v2/point", f.createFlight).Methods("POST")
	r.HandleFunc("/flight/v2/{id}/end", f.endFlight).Methods("POST")
	return r
}

func writeData(w http.ResponseWriter, status int, state string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": state, "data": data})
}

func (f *fakeRegistry) login(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["user_id"] == "" {
		writeData(w, http.StatusBadRequest, "fail", map[string]string{"message": "user_id required"})
		return
	}
	f.mu.Lock()
	f.lastAPIKey = r.Header.Get("X-API-Key")
	f.mu.Unlock()
	writeData(w, http.StatusOK, "success", map[string]interface{}{"id_token": f.token, "expires_in": 3600})
}

func (f *fakeRegistry) models(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["manufacturer"] != "parrot" {
		writeData(w, http.StatusOK, "success", []types.AircraftModel{})
		return
	}
	writeData(w, http.StatusOK, "success", []types.AircraftModel{
		{ID: "model|1", Name: "Bebop 2"},
		{ID: "model|2", Name: "Anafi"},
	})
}

func (f *fakeRegistry) createAircraft(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)
	writeData(w, http.StatusOK, "success", types.Aircraft{
		ID:       "aircraft|1",
		Nickname: body["nickname"],
		Model:    types.AircraftModel{ID: body["model_id"]},
	})
}

func (f *fakeRegistry) createFlight(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")
	if f.failFlights {
		writeData(w, http.StatusBadRequest, "fail", map[string]string{"message": "airspace unavailable"})
		return
	}
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)
	f.lastFlight = body
	writeData(w, http.StatusOK, "success", map[string]interface{}{
		"id":         "flight|42",
		"latitude":   body["latitude"],
		"longitude":  body["longitude"],
		"start_time": body["start_time"],
		"end_time":   body["end_time"],
	})
}

func (f *fakeRegistry) endFlight(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "success", map[string]interface{}{
		"id":       mux.Vars(r)["id"],
		"end_time": "2026-10-19T13:00:00Z",
	})
}

type recordingSink struct {
	samples []*types.Telemetry
	err     error
}

func (s *recordingSink) PublishTelemetry(t *types.Telemetry) error {
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, t)
	return nil
}

func newTestClient(t *testing.T, fake *fakeRegistry, sink TelemetrySink) *Client {
	t.Helper()
	server := httptest.NewServer(fake.router())
	t.Cleanup(server.Close)
	return NewWithHTTPClient(server.URL, "test-key", server.Client(), nil, sink)
}

func TestClient_LoginAndCreateFlight(t *testing.T) {
	fake := &fakeRegistry{token: "token-abc"}
	client := newTestClient(t, fake, nil)
	ctx := context.Background()

	if client.IsAuthenticated(ctx) {
		t.Fatal("client should not be authenticated before login")
	}

	if err := client.PerformAnonymousLogin(ctx, "pilot-1"); err != nil {
		t.Fatalf("PerformAnonymousLogin() failed: %v", err)
	}
	if !client.IsAuthenticated(ctx) {
		t.Fatal("client should be authenticated after login")
	}
	if fake.lastAPIKey != "test-key" {
		t.Errorf("Expected API key header, got %q", fake.lastAPIKey)
	}

	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rec, err := client.CreateFlight(ctx, &types.FlightRequest{
		Coordinate:        types.Coordinate{Latitude: 34.0195, Longitude: -118.4912},
		BufferMeters:      100,
		MaxAltitudeMeters: 100,
		Public:            true,
		Notify:            true,
		StartsAt:          start,
		EndsAt:            start.Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateFlight() failed: %v", err)
	}
	if rec.ID != "flight|42" {
		t.Errorf("Expected flight id flight|42, got %s", rec.ID)
	}
	if !rec.EndsAt.Equal(start.Add(4 * time.Hour)) {
		t.Errorf("Expected end time to round trip, got %v", rec.EndsAt)
	}
	if fake.lastAuth != "Bearer token-abc" {
		t.Errorf("Expected bearer token, got %q", fake.lastAuth)
	}
	if fake.lastFlight["buffer"].(float64) != 100 {
		t.Errorf("Expected buffer 100, got %v", fake.lastFlight["buffer"])
	}
	if _, ok := fake.lastFlight["aircraft_id"]; ok {
		t.Error("aircraft_id should not be sent without an aircraft")
	}
}

func TestClient_CreateFlight_APIError(t *testing.T) {
	fake := &fakeRegistry{token: "token-abc", failFlights: true}
	client := newTestClient(t, fake, nil)

	_, err := client.CreateFlight(context.Background(), &types.FlightRequest{})
	if err == nil {
		t.Fatal("CreateFlight() should fail")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "airspace unavailable" {
		t.Errorf("Expected failure message, got %q", apiErr.Message)
	}
}

func TestClient_LoginEmptyToken(t *testing.T) {
	client := newTestClient(t, &fakeRegistry{}, nil)

	if err := client.PerformAnonymousLogin(context.Background(), "pilot-1"); err == nil {
		t.Fatal("PerformAnonymousLogin() should fail on empty token")
	}
	if client.IsAuthenticated(context.Background()) {
		t.Error("client should not be authenticated after a failed login")
	}
}

func TestClient_ListAircraftModels(t *testing.T) {
	client := newTestClient(t, &fakeRegistry{}, nil)

	models, err := client.ListAircraftModels(context.Background(), "parrot")
	if err != nil {
		t.Fatalf("ListAircraftModels() failed: %v", err)
	}
	if len(models) != 2 || models[1].Name != "Anafi" {
		t.Errorf("Unexpected models: %+v", models)
	}

	models, err = client.ListAircraftModels(context.Background(), "other")
	if err != nil {
		t.Fatalf("ListAircraftModels() failed: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("Expected no models, got %+v", models)
	}
}

func TestClient_CreateAircraftAndEndFlight(t *testing.T) {
	client := newTestClient(t, &fakeRegistry{token: "t"}, nil)
	ctx := context.Background()

	aircraft, err := client.CreateAircraft(ctx, &types.Aircraft{
		Nickname: "Bebop 2",
		Model:    types.AircraftModel{ID: "model|1", Name: "Bebop 2"},
	})
	if err != nil {
		t.Fatalf("CreateAircraft() failed: %v", err)
	}
	if aircraft.ID != "aircraft|1" || aircraft.Model.ID != "model|1" {
		t.Errorf("Unexpected aircraft: %+v", aircraft)
	}

	rec, err := client.EndFlight(ctx, "flight|42")
	if err != nil {
		t.Fatalf("EndFlight() failed: %v", err)
	}
	if rec.ID != "flight|42" {
		t.Errorf("Expected flight|42, got %s", rec.ID)
	}
	if !rec.EndsAt.Equal(time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected end time %v", rec.EndsAt)
	}
}

func TestClient_Telemetry(t *testing.T) {
	sink := &recordingSink{}
	client := New("http://unused", "", nil, sink)
	ctx := context.Background()

	if err := client.SendPosition(ctx, "f1", 1, 2, 30, 30, 0); err != nil {
		t.Fatalf("SendPosition() failed: %v", err)
	}
	if err := client.SendSpeed(ctx, "f1", 1, 2, 3); err != nil {
		t.Fatalf("SendSpeed() failed: %v", err)
	}
	if err := client.SendAttitude(ctx, "f1", 90, 5, -5); err != nil {
		t.Fatalf("SendAttitude() failed: %v", err)
	}

	if len(sink.samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(sink.samples))
	}
	kinds := []types.TelemetryKind{types.TelemetryPosition, types.TelemetrySpeed, types.TelemetryAttitude}
	for i, kind := range kinds {
		if sink.samples[i].Kind != kind {
			t.Errorf("sample %d: expected %s, got %s", i, kind, sink.samples[i].Kind)
		}
		if sink.samples[i].FlightID != "f1" {
			t.Errorf("sample %d: expected flight f1, got %s", i, sink.samples[i].FlightID)
		}
		if sink.samples[i].Timestamp.IsZero() {
			t.Errorf("sample %d: timestamp not set", i)
		}
	}
	if sink.samples[0].GroundAltitude != 30 || sink.samples[2].Yaw != 90 {
		t.Error("sample values were not carried through")
	}
}

func TestClient_TelemetryErrors(t *testing.T) {
	client := New("http://unused", "", nil, nil)
	if err := client.SendSpeed(context.Background(), "f1", 0, 0, 0); !errors.Is(err, ErrNoTelemetrySink) {
		t.Errorf("Expected ErrNoTelemetrySink, got %v", err)
	}

	client = New("http://unused", "", nil, &recordingSink{err: errors.New("bus down")})
	err := client.SendAttitude(context.Background(), "f1", 0, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "bus down") {
		t.Errorf("Expected wrapped sink error, got %v", err)
	}
}

func TestMemoryTokenStore_Expiry(t *testing.T) {
	store := &MemoryTokenStore{}
	ctx := context.Background()

	if err := store.StoreToken(ctx, "abc", time.Nanosecond); err != nil {
		t.Fatalf("StoreToken() failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	token, err := store.GetToken(ctx)
	if err != nil {
		t.Fatalf("GetToken() failed: %v", err)
	}
	if token != "" {
		t.Errorf("Expected expired token to be dropped, got %q", token)
	}

	store.StoreToken(ctx, "def", 0)
	if token, _ := store.GetToken(ctx); token != "def" {
		t.Errorf("Expected token without ttl to persist, got %q", token)
	}
}
