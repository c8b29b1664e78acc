package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ebanchero/pupila/internal/config"
	"github.com/ebanchero/pupila/internal/store"
)

func newTestHandler(t *testing.T) (*ProfileHandler, *store.Store) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pupila-api-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return NewProfileHandler(s), s
}

func createProfile(t *testing.T, h *ProfileHandler, name string) profileResponse {
	t.Helper()

	settings := config.DefaultSettings(960, 540, 0, 50)
	settings.Threshold = [2]int{80, 95}
	body, _ := json.Marshal(profileRequest{Name: name, Settings: settings})

	req := httptest.NewRequest(http.MethodPost, "/api/profiles", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestProfiles_CreateAndGet(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createProfile(t, h, "clinic-a")
	if created.ID == "" {
		t.Fatal("created profile should have an id")
	}
	if created.Settings.Threshold != [2]int{80, 95} {
		t.Errorf("thresholds = %v, want [80 95]", created.Settings.Threshold)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profiles/"+created.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	var got profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Name != "clinic-a" {
		t.Errorf("name = %q, want clinic-a", got.Name)
	}
}

func TestProfiles_CreateValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/profiles", bytes.NewReader([]byte(`{"settings":{}}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name returned %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/profiles", bytes.NewReader([]byte(`not json`)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body returned %d, want 400", rec.Code)
	}
}

func TestProfiles_List(t *testing.T) {
	h, _ := newTestHandler(t)

	createProfile(t, h, "one")
	createProfile(t, h, "two")

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var resp listProfilesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(resp.Profiles) != 2 {
		t.Errorf("listed %d profiles, want 2", len(resp.Profiles))
	}
}

func TestProfiles_Update(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createProfile(t, h, "before")

	settings := created.Settings
	settings.Erode = [2]int{2, 3}
	body, _ := json.Marshal(profileRequest{Name: "after", Settings: settings})

	req := httptest.NewRequest(http.MethodPut, "/api/profiles/"+created.ID, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	var got profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if got.Name != "after" || got.Settings.Erode != [2]int{2, 3} {
		t.Errorf("update did not stick: %+v", got)
	}
}

func TestProfiles_Delete(t *testing.T) {
	h, _ := newTestHandler(t)

	created := createProfile(t, h, "doomed")

	req := httptest.NewRequest(http.MethodDelete, "/api/profiles/"+created.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/profiles/"+created.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete returned %d, want 404", rec.Code)
	}
}

func TestProfiles_UnknownID(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/profiles/no-such-id", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s unknown id returned %d, want 404", method, rec.Code)
		}
	}
}

func TestProfiles_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/profiles", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PATCH returned %d, want 405", rec.Code)
	}
}
