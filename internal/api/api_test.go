package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/npcforge/internal/npc"
)

// newTestServer returns a mux serving the API over a seeded MemStore, and
// the IDs of the seeded NPCs in order.
func newTestServer(t *testing.T, store npc.Store) (*http.ServeMux, []string) {
	t.Helper()
	var ids []string
	for _, f := range npc.DefaultSeed() {
		n, err := store.Create(context.Background(), f)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, n.ID)
	}
	mux := http.NewServeMux()
	New(store, nil).Register(mux)
	return mux, ids
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestList(t *testing.T) {
	t.Parallel()

	mux, _ := newTestServer(t, npc.NewMemStore())
	rec := do(t, mux, http.MethodGet, "/api/npcs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	all := decodeBody[[]npc.NPC](t, rec)
	if len(all) != 2 || all[0].Name != "Aria" || all[1].Name != "Nexus" {
		t.Errorf("List = %+v", all)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(npc.NewMemStore(), nil).Register(mux)
	rec := do(t, mux, http.MethodGet, "/api/npcs", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	mux, ids := newTestServer(t, npc.NewMemStore())

	rec := do(t, mux, http.MethodGet, "/api/npcs/"+ids[1], "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody[npc.NPC](t, rec); got.ID != ids[1] || got.Name != "Nexus" {
		t.Errorf("Get = %+v", got)
	}

	rec = do(t, mux, http.MethodGet, "/api/npcs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Error == "" {
		t.Error("missing: empty error message")
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid",
			body:       `{"name":"Vex","personality":{"riskTolerance":3,"rationality":4,"autonomy":5},"coreValues":["Order"],"primaryAims":["Guard"]}`,
			wantStatus: http.StatusCreated,
		},
		{name: "missing name", body: `{"background":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "trait out of range", body: `{"name":"Vex","personality":{"riskTolerance":11}}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"Vex","colour":"red"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"name":`, wantStatus: http.StatusBadRequest},
		{name: "trailing data", body: `{"name":"Vex"} {}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := npc.NewMemStore()
			mux := http.NewServeMux()
			New(store, nil).Register(mux)

			rec := do(t, mux, http.MethodPost, "/api/npcs", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusCreated {
				if store.Len() != 0 {
					t.Errorf("store has %d NPCs after rejected create", store.Len())
				}
				return
			}
			created := decodeBody[npc.NPC](t, rec)
			if created.ID == "" || created.Name != "Vex" {
				t.Errorf("created = %+v", created)
			}
			if loc := rec.Header().Get("Location"); loc != "/api/npcs/"+created.ID {
				t.Errorf("Location = %q", loc)
			}
		})
	}
}

func TestCreate_ProblemsNameJSONKeys(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(npc.NewMemStore(), nil).Register(mux)

	rec := do(t, mux, http.MethodPost, "/api/npcs",
		`{"name":"Vex","personality":{"riskTolerance":11,"rationality":5,"autonomy":5},"coreValues":["Order",""],"primaryAims":[" "]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody[struct {
		Error    string   `json:"error"`
		Problems []string `json:"problems"`
	}](t, rec)
	want := []string{
		"personality.riskTolerance must be in [0, 10], got 11",
		"coreValues[1] must not be blank",
		"primaryAims[0] must not be blank",
	}
	if strings.Join(body.Problems, "|") != strings.Join(want, "|") {
		t.Errorf("problems:\n got  %q\n want %q", body.Problems, want)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	mux, ids := newTestServer(t, npc.NewMemStore())

	rec := do(t, mux, http.MethodPatch, "/api/npcs/"+ids[0], `{"name":"Aria Prime"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	got := decodeBody[npc.NPC](t, rec)
	if got.Name != "Aria Prime" || got.ID != ids[0] {
		t.Errorf("updated = %+v", got)
	}
	if got.Background == "" || len(got.CoreValues) != 3 {
		t.Errorf("untouched fields lost: %+v", got)
	}

	if rec := do(t, mux, http.MethodPatch, "/api/npcs/missing", `{"name":"X"}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
	if rec := do(t, mux, http.MethodPatch, "/api/npcs/"+ids[0], `{"name":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank name: status = %d, want 400", rec.Code)
	}
}

// updateCounter counts writes that reach the store.
type updateCounter struct {
	npc.Store
	updates int
}

func (c *updateCounter) Update(ctx context.Context, id string, p npc.Patch) (npc.NPC, error) {
	c.updates++
	return c.Store.Update(ctx, id, p)
}

func TestUpdate_EmptyPatchSkipsWrite(t *testing.T) {
	t.Parallel()

	store := &updateCounter{Store: npc.NewMemStore()}
	mux, ids := newTestServer(t, store)

	rec := do(t, mux, http.MethodPatch, "/api/npcs/"+ids[1], `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if got := decodeBody[npc.NPC](t, rec); got.ID != ids[1] || got.Name != "Nexus" {
		t.Errorf("empty patch returned %+v", got)
	}
	if rec := do(t, mux, http.MethodPatch, "/api/npcs/missing", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("empty patch on missing npc: status = %d, want 404", rec.Code)
	}
	if store.updates != 0 {
		t.Errorf("store.Update called %d times for empty patches", store.updates)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	mux, ids := newTestServer(t, npc.NewMemStore())

	if rec := do(t, mux, http.MethodDelete, "/api/npcs/"+ids[0], ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec := do(t, mux, http.MethodDelete, "/api/npcs/"+ids[0], ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/api/npcs/"+ids[0], ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestBreed(t *testing.T) {
	t.Parallel()

	store := npc.NewMemStore()
	mux, ids := newTestServer(t, store)

	rec := do(t, mux, http.MethodPost, "/api/breed", `{"parent_a":"`+ids[0]+`","parent_b":"`+ids[1]+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	child := decodeBody[npc.NPC](t, rec)
	want := npc.Personality{RiskTolerance: 5.5, Rationality: 8.5, Autonomy: 8}
	if child.Personality != want {
		t.Errorf("Personality = %+v, want %+v", child.Personality, want)
	}
	if !strings.HasPrefix(child.Name, "hybrid-") {
		t.Errorf("Name = %q, want hybrid- prefix", child.Name)
	}
	if store.Len() != 3 {
		t.Errorf("store has %d NPCs, want 3", store.Len())
	}
}

func TestBreed_Errors(t *testing.T) {
	t.Parallel()

	mux, ids := newTestServer(t, npc.NewMemStore())

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "same parent", body: `{"parent_a":"` + ids[0] + `","parent_b":"` + ids[0] + `"}`, wantStatus: http.StatusBadRequest},
		{name: "missing parent", body: `{"parent_a":"` + ids[0] + `","parent_b":"ghost"}`, wantStatus: http.StatusNotFound},
		{name: "empty ids", body: `{"parent_a":"","parent_b":""}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `[]`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/breed", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

type brokenStore struct{ npc.Store }

func (brokenStore) List(context.Context) ([]npc.NPC, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailureIs500(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(brokenStore{npc.NewMemStore()}, nil).Register(mux)

	rec := do(t, mux, http.MethodGet, "/api/npcs", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody[errorBody](t, rec); body.Error != "internal error" {
		t.Errorf("error = %q, want internal error (no leak of cause)", body.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux, _ := newTestServer(t, npc.NewMemStore())
	if rec := do(t, mux, http.MethodPut, "/api/npcs", `{}`); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
