// Package processor turns raw Current Account files dropped on disk into
// database records. For every file of a dataset it runs the full pipeline:
// load, clean, derive indicators, upload, then remove the source file.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/decorate"

	"github.com/abcore/econ-insights/internal/pipeline/cleaner"
	"github.com/abcore/econ-insights/internal/pipeline/dataset"
	"github.com/abcore/econ-insights/internal/pipeline/indicators"
	"github.com/abcore/econ-insights/internal/pipeline/models"
)

// Processor processes raw dataset files and uploads the results.
type Processor struct {
	baseDir string
	db      dUploader

	filesProcessed *prometheus.CounterVec
	processingTime *prometheus.HistogramVec
	rowsInserted   *prometheus.CounterVec
	rowsRejected   *prometheus.CounterVec
}

type dUploader interface {
	UploadObservations(ctx context.Context, runID, dataset string, obs []models.Observation) error
	UploadInvalidRows(ctx context.Context, runID, dataset string, rows []models.RejectedRow) error
}

// New creates a new Processor for the given base directory and uploader.
// The base directory is created if it does not yet exist.
func New(baseDir string, db dUploader, reg prometheus.Registerer) (*Processor, error) {
	if baseDir == "" {
		return nil, errors.New("base directory must not be empty")
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %v", err)
	}

	p := &Processor{
		baseDir: baseDir,
		db:      db,

		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_processor_files_processed_total",
			Help: "Total number of dataset files processed by the ingest service.",
		}, []string{"dataset", "result"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_processor_process_duration_seconds",
			Help:    "Time spent processing a single dataset file.",
			Buckets: prometheus.DefBuckets,
		}, []string{"dataset"}),
		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_processor_rows_inserted_total",
			Help: "Total number of observations uploaded to the database.",
		}, []string{"dataset"}),
		rowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_processor_rows_rejected_total",
			Help: "Total number of source rows rejected during cleaning.",
		}, []string{"dataset"}),
	}

	for _, c := range []prometheus.Collector{p.filesProcessed, p.processingTime, p.rowsInserted, p.rowsRejected} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register processor metrics: %v", err)
		}
	}

	return p, nil
}

// Process runs the pipeline over all pending files of the named dataset.
//
// Files are processed oldest-name-first. A failing file does not stop the
// remaining ones; the joined error is returned at the end. Source files are
// removed only after a fully successful upload.
func (p *Processor) Process(ctx context.Context, ds string) error {
	files, err := p.pendingFiles(ds)
	if err != nil {
		return fmt.Errorf("failed to list files for dataset %s: %v", ds, err)
	}

	var errs error
	for _, file := range files {
		select {
		case <-ctx.Done():
			return errors.Join(errs, ctx.Err())
		default:
		}

		if err := p.ProcessFile(ctx, ds, file); err != nil {
			p.filesProcessed.WithLabelValues(ds, "failure").Inc()
			slog.Error("Failed to process file", "dataset", ds, "file", file, "err", err)
			errs = errors.Join(errs, fmt.Errorf("%s: %v", filepath.Base(file), err))
			continue
		}
		p.filesProcessed.WithLabelValues(ds, "success").Inc()
	}

	return errs
}

// ProcessFile runs the pipeline over a single file and removes it on success.
func (p *Processor) ProcessFile(ctx context.Context, ds, path string) (err error) {
	defer decorate.OnError(&err, "failed to process %s", filepath.Base(path))

	start := time.Now()
	defer func() {
		p.processingTime.WithLabelValues(ds).Observe(time.Since(start).Seconds())
	}()

	runID := uuid.NewString()
	slog.Info("Processing file", "dataset", ds, "file", path, "run", runID)

	table, err := dataset.Load(path)
	if err != nil {
		return err
	}

	cleaned, err := cleaner.Clean(table)
	if err != nil {
		return err
	}

	res, err := indicators.Derive(cleaned.Observations)
	if err != nil {
		return err
	}

	if err := p.db.UploadObservations(ctx, runID, ds, res.Observations); err != nil {
		return err
	}
	if err := p.db.UploadInvalidRows(ctx, runID, ds, cleaned.Rejected); err != nil {
		return err
	}

	p.rowsInserted.WithLabelValues(ds).Add(float64(len(res.Observations)))
	p.rowsRejected.WithLabelValues(ds).Add(float64(len(cleaned.Rejected)))

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("uploaded but failed to remove source file: %v", err)
	}

	slog.Info("Processed file",
		"dataset", ds,
		"file", path,
		"run", runID,
		"observations", len(res.Observations),
		"rejected", len(cleaned.Rejected),
		"current_account", res.HasCurrentAccount)
	return nil
}

// pendingFiles lists source files of a dataset in deterministic order.
func (p *Processor) pendingFiles(ds string) ([]string, error) {
	dir := filepath.Join(p.baseDir, ds)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".xlsx":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
