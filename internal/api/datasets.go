package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/sandbox"
	"github.com/tabletalk/tabletalk/internal/sqlcheck"
)

// maxDatasetBytes caps uploads; snapshots are held in memory during
// introspection and execution.
const maxDatasetBytes = 256 << 20

func handlePutDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDatasetBytes))
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", "dataset upload exceeds the size limit", false, nil)
		return
	}
	if len(body) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must contain a Parquet snapshot", false, nil)
		return
	}

	saved, err := deps.Datasets.Save(r.Context(), datasetID, body)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type datasetSchemaResponse struct {
	dataset.Dataset
	SampleRows []map[string]any `json:"sample_rows,omitempty"`
}

func handleDatasetSchema(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset")

	described, err := deps.Datasets.Describe(r.Context(), datasetID)
	if err != nil {
		if errors.Is(err, dataset.ErrDatasetNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_DESCRIBE_FAILED", err.Error(), true, nil)
		return
	}

	response := datasetSchemaResponse{Dataset: described}
	response.SampleRows = sampleDatasetRows(r.Context(), cfg, deps, datasetID)
	writeJSON(w, http.StatusOK, response)
}

// sampleDatasetRows is best effort: a sampling failure returns no rows
// rather than failing the schema request.
func sampleDatasetRows(ctx context.Context, cfg config.Config, deps Dependencies, datasetID string) []map[string]any {
	sampleRows := cfg.Analysis.SchemaSampleRows
	if sampleRows <= 0 || deps.Sampler == nil {
		return nil
	}
	snapshot, err := deps.Datasets.Load(ctx, datasetID)
	if err != nil {
		return nil
	}
	sample, err := deps.Sampler.Execute(ctx, sandbox.Request{
		SQL:       fmt.Sprintf("SELECT * FROM %s", sqlcheck.CanonicalTable),
		Snapshot:  snapshot,
		Relations: []string{sqlcheck.CanonicalTable},
		RowCap:    sampleRows,
	})
	if err != nil || !sample.Success {
		return nil
	}
	return sample.Rows
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("dataset")

	if err := deps.Datasets.Delete(r.Context(), datasetID); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_DELETE_FAILED", err.Error(), true, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
