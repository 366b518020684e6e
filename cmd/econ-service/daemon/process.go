package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abcore/econ-insights/internal/ingest/database"
	"github.com/abcore/econ-insights/internal/pipeline/cleaner"
	"github.com/abcore/econ-insights/internal/pipeline/dataset"
	"github.com/abcore/econ-insights/internal/pipeline/indicators"
	"github.com/abcore/econ-insights/internal/pipeline/models"
)

func installProcessCmd(app *App) {
	var upload bool

	processCmd := &cobra.Command{
		Use:   "process [path-to-dataset-file]",
		Short: "Clean a dataset file and print the derived indicators",
		Long: `Load a single Current Account export, clean it and derive the indicator
hierarchy, printing the resulting observations.

With --upload the observations and any rejected rows are also inserted into
the configured PostgreSQL database, under a fresh run ID.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("process command accepts exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true

			slog.Info("Running process command", "path", args[0], "upload", upload)
			res, rejected, err := processOnce(args[0])
			if err != nil {
				return err
			}
			printResult(cmd, res)

			if !upload {
				return nil
			}
			return app.uploadResult(cmd.Context(), args[0], res.Observations, rejected)
		},
	}

	processCmd.Flags().BoolVar(&upload, "upload", false, "insert the processed observations into the database")
	addDBFlags(processCmd, &app.config.DBconfig)
	app.cmd.AddCommand(processCmd)
}

func processOnce(path string) (indicators.Result, []models.RejectedRow, error) {
	table, err := dataset.Load(path)
	if err != nil {
		return indicators.Result{}, nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	cleaned, err := cleaner.Clean(table)
	if err != nil {
		return indicators.Result{}, nil, fmt.Errorf("failed to clean %s: %w", path, err)
	}
	for _, r := range cleaned.Rejected {
		slog.Warn("Rejected row", "raw", r.Raw, "reason", r.Reason)
	}

	res, err := indicators.Derive(cleaned.Observations)
	if err != nil {
		return indicators.Result{}, nil, fmt.Errorf("failed to derive indicators for %s: %w", path, err)
	}
	return res, cleaned.Rejected, nil
}

// uploadResult inserts the processed observations and rejected rows of a
// single file under a fresh run ID. The dataset name is the file name
// without its extension.
func (a App) uploadResult(ctx context.Context, path string, obs []models.Observation, rejected []models.RejectedRow) (err error) {
	db, err := database.Connect(ctx, a.config.DBconfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()

	runID := uuid.NewString()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if err := db.UploadObservations(ctx, runID, name, obs); err != nil {
		return err
	}
	if err := db.UploadInvalidRows(ctx, runID, name, rejected); err != nil {
		return err
	}

	slog.Info("Uploaded processed dataset",
		"dataset", name, "run_id", runID,
		"observations", len(obs), "rejected", len(rejected))
	return nil
}

func printResult(cmd *cobra.Command, res indicators.Result) {
	var derived int
	for _, o := range res.Observations {
		if o.Derived {
			derived++
		}
	}
	cmd.Printf("%d observations (%d derived)\n", len(res.Observations), derived)

	for _, o := range res.Observations {
		marker := ""
		if o.Derived {
			marker = " *"
		}
		cmd.Printf("%s\t%s\tFY%d\t%g%s\n", o.Date.Format("2006-01-02"), o.Description, o.FiscalYear, o.Value, marker)
	}
}
