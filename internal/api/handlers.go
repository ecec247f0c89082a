package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/provcat/internal/api/notifier"
	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

type handlers struct {
	index    core.Index
	logger   *slog.Logger
	notifier *notifier.Notifier[IngestEvent]
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "index": h.index.Name()})
}

// events streams ingest events from the watched directory as datastar
// signal patches.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	ch := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(ch)

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := sse.MarshalAndPatchSignals(map[string]any{"ingest": ev}); err != nil {
				h.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *handlers) listMetadataTypes(w http.ResponseWriter, r *http.Request) {
	types, err := batch.Collect(h.index.MetadataTypes().GetAll(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *handlers) getMetadataType(w http.ResponseWriter, r *http.Request) {
	mt, err := h.index.MetadataTypes().Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mt)
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := batch.Collect(h.index.Products().GetAll(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.index.Products().Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func datasetID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, core.ErrValidation("invalid dataset id %q", raw)
	}
	return id, nil
}

func (h *handlers) getDataset(w http.ResponseWriter, r *http.Request) {
	id, err := datasetID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ds, err := h.index.Datasets().Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// addDatasets ingests a YAML or JSON stream of dataset documents.
// lineage=false skips recording their sources.
func (h *handlers) addDatasets(w http.ResponseWriter, r *http.Request) {
	withLineage, err := boolParam(r, "lineage", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	status, err := loader.IngestDatasets(r.Context(), h.index, loader.Decode(body, "request"), withLineage, h.logger)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"completed":  status.Completed,
		"skipped":    status.Skipped,
		"elapsed_ms": status.Elapsed.Milliseconds(),
	})
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.ErrValidation("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, core.ErrValidation("%s must be a boolean, got %q", name, raw)
	}
	return b, nil
}

func (h *handlers) sourceTree(w http.ResponseWriter, r *http.Request) {
	h.tree(w, r, h.index.Lineage().GetSourceTree)
}

func (h *handlers) derivedTree(w http.ResponseWriter, r *http.Request) {
	h.tree(w, r, h.index.Lineage().GetDerivedTree)
}

func (h *handlers) tree(w http.ResponseWriter, r *http.Request, get func(context.Context, uuid.UUID, int) (*lineage.Tree, error)) {
	id, err := datasetID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	depth, err := intParam(r, "depth")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tree, err := get(r.Context(), id, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree.Serialise(true))
}

// addLineage merges the serialised tree in the request body.
func (h *handlers) addLineage(w http.ResponseWriter, r *http.Request) {
	maxDepth, err := intParam(r, "max_depth")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	allowUpdates, err := boolParam(r, "allow_updates", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	validateOnly, err := boolParam(r, "validate_only", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var doc core.Document
	for d, err := range loader.Decode(body, "request") {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		doc = d
		break
	}
	if doc == nil {
		h.writeError(w, r, core.ErrValidation("request body holds no lineage tree"))
		return
	}
	tree, err := lineage.Deserialise(doc, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if validateOnly {
		rels, err := lineage.NewRelations(lineage.WithTree(tree, maxDepth))
		if err == nil {
			err = h.index.Lineage().Merge(r.Context(), rels, allowUpdates, true)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	} else if err := h.index.Lineage().Add(r.Context(), tree, maxDepth, allowUpdates); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": tree.DatasetID.String(), "validate_only": validateOnly})
}

// homes returns the recorded homes of a dataset and of every dataset in
// its source tree.
func (h *handlers) homes(w http.ResponseWriter, r *http.Request) {
	id, err := datasetID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tree, err := h.index.Lineage().GetSourceTree(r.Context(), id, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	children, err := tree.ChildDatasets()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids := []uuid.UUID{id}
	for child := range children {
		ids = append(ids, child)
	}
	homes, err := h.index.Lineage().GetHomes(r.Context(), ids...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(map[string]string, len(homes))
	for k, v := range homes {
		out[k.String()] = v
	}
	writeJSON(w, http.StatusOK, out)
}
