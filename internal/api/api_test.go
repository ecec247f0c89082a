package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/internal/memstore"
	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

const (
	idA = "00000000-0000-0000-0000-00000000000a"
	idB = "00000000-0000-0000-0000-00000000000b"
	idC = "00000000-0000-0000-0000-00000000000c"
)

func newTestServer(t *testing.T) (*Server, core.Index) {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	ix := index.New("test", memstore.New(logger), index.WithLogger(logger))
	require.NoError(t, ix.Init(context.Background()))
	t.Cleanup(func() { _ = ix.Close() })

	ctx := context.Background()
	_, err := ix.MetadataTypes().Add(ctx, &core.MetadataType{Name: "eo3", Definition: core.Document{"name": "eo3"}})
	require.NoError(t, err)
	_, err = ix.Products().Add(ctx, &core.Product{Name: "ls8", MetadataType: "eo3", Definition: core.Document{"name": "ls8", "metadata_type": "eo3"}})
	require.NoError(t, err)

	return NewServer(Config{Index: ix, Logger: logger}), ix
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", core.ErrNotFound("dataset", "x"), http.StatusNotFound},
		{"mismatch", &core.DocumentMismatchError{Kind: "product", Key: "ls8"}, http.StatusConflict},
		{"conflict", core.ErrConflict("taken"), http.StatusConflict},
		{"inconsistent lineage", fmt.Errorf("merge: %w", &lineage.InconsistentLineageError{Reason: "cycle"}), http.StatusConflict},
		{"validation", core.ErrValidation("bad"), http.StatusBadRequest},
		{"parse", &loader.DocumentParseError{Message: "bad yaml"}, http.StatusBadRequest},
		{"read only", core.ErrReadOnly, http.StatusForbidden},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "index": "test"}, decode[map[string]string](t, rec))
}

func TestCatalogRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/metadata-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]map[string]any](t, rec)
	require.Len(t, types, 1)
	assert.Equal(t, "eo3", types[0]["name"])

	rec = do(t, h, http.MethodGet, "/products/ls8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eo3", decode[map[string]any](t, rec)["metadata_type"])

	rec = do(t, h, http.MethodGet, "/products/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec)["error"], "not found")

	rec = do(t, h, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestDatasets(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	body := fmt.Sprintf("id: %s\nproduct: {name: ls8}\nlocation: s3://bucket/a.yaml\n---\nid: %s\nproduct: {name: nope}\n", idA, idB)
	rec := do(t, h, http.MethodPost, "/datasets", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, status["completed"])
	assert.EqualValues(t, 1, status["skipped"])

	rec = do(t, h, http.MethodGet, "/datasets/"+idA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	ds := decode[map[string]any](t, rec)
	assert.Equal(t, "ls8", ds["product"])
	assert.Equal(t, []any{"s3://bucket/a.yaml"}, ds["uris"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/datasets/"+idB, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/datasets/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/datasets?lineage=maybe", body).Code)
}

func TestLineage(t *testing.T) {
	s, ix := newTestServer(t)
	h := s.Handler()

	tree := fmt.Sprintf(`{"id": %q, "home": "main", "sources": {"ard": [{"id": %q, "sources": {"level1": [{"id": %q}]}}]}}`, idA, idB, idC)
	rec := do(t, h, http.MethodPost, "/lineage", tree)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/lineage/"+idA+"/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := lineage.Deserialise(decode[map[string]any](t, rec), nil)
	require.NoError(t, err)
	children, err := got.ChildDatasets()
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.Equal(t, "main", got.Home)

	rec = do(t, h, http.MethodGet, "/lineage/"+idA+"/sources?depth=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err = lineage.Deserialise(decode[map[string]any](t, rec), nil)
	require.NoError(t, err)
	children, err = got.ChildDatasets()
	require.NoError(t, err)
	assert.Len(t, children, 1)

	rec = do(t, h, http.MethodGet, "/lineage/"+idC+"/derived", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"derivations"`)

	rec = do(t, h, http.MethodGet, "/lineage/"+idA+"/homes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{idA: "main"}, decode[map[string]string](t, rec))

	// Reclassifying an existing edge is a conflict unless updates are allowed.
	reclassified := fmt.Sprintf(`{"id": %q, "sources": {"other": [{"id": %q}]}}`, idA, idB)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/lineage?validate_only=true", reclassified).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/lineage", reclassified).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/lineage?validate_only=true&allow_updates=true", reclassified).Code)

	stored, err := ix.Lineage().GetSourceTree(context.Background(), mustID(idA), 1)
	require.NoError(t, err)
	assert.Len(t, stored.Children.Get("ard"), 1, "validate_only writes nothing")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/lineage?max_depth=-1", tree).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/lineage", "").Code)
}

func TestWatch_IngestsExistingAndNewFiles(t *testing.T) {
	s, ix := newTestServer(t)
	dir := t.TempDir()
	s.watchDir = dir

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte(fmt.Sprintf("id: %s\nproduct: {name: ls8}\n", idA)), 0o600))

	events := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watch(ctx) }()

	next := func() IngestEvent {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no ingest event")
			return IngestEvent{}
		}
	}

	ev := next()
	assert.Equal(t, filepath.Join(dir, "a.yaml"), ev.File)
	assert.Equal(t, 1, ev.Completed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(fmt.Sprintf(`{"id": %q, "product": {"name": "ls8"}, "lineage": {"ard": [%q]}}`, idB, idA)), 0o600))
	ev = next()
	assert.Equal(t, filepath.Join(dir, "b.json"), ev.File)
	assert.Equal(t, 1, ev.Completed)
	assert.Empty(t, ev.Error)

	has, err := ix.Datasets().Has(context.Background(), mustID(idB))
	require.NoError(t, err)
	assert.True(t, has)

	cancel()
	require.NoError(t, <-done)
}

func TestEventsStream(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return s.notifier.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.notifier.Broadcast(IngestEvent{File: "drop/a.yaml", Completed: 3})

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "drop/a.yaml") {
			found = true
			break
		}
	}
	assert.True(t, found, "event not streamed")
}

func mustID(s string) uuid.UUID { return uuid.MustParse(s) }
