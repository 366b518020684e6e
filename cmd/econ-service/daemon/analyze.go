package daemon

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/abcore/econ-insights/internal/analyst"
	"github.com/abcore/econ-insights/internal/common/constants"
)

func installAnalyzeCmd(app *App) {
	analyzeCmd := &cobra.Command{
		Use:   "analyze [path-to-dataset-file]",
		Short: "Run the language model analysis over a dataset file",
		Long: `Load a Current Account export, clean it, derive the indicator hierarchy and
request a full economic analysis from the configured language model provider.

Without an argument the most recently modified dataset file under the
datasets directory is analyzed.

Provider credentials are read from the ANTHROPIC_API_KEY and OPENAI_API_KEY
environment variables, or from a .env file in the working directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true

			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file loaded", "err", err)
			}

			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				path, err = newestDatasetFile(app.config.DatasetsDir)
				if err != nil {
					return err
				}
				slog.Info("No dataset file given, analyzing the most recent one", "path", path)
			}

			slog.Info("Running analyze command", "path", path)
			return app.analyzeRun(cmd, path)
		},
	}

	analyzeCmd.Flags().StringVar(&app.config.DatasetsDir, "datasets-dir", constants.DefaultServiceDatasetsDir, "base directory to read dataset files from")
	app.cmd.AddCommand(analyzeCmd)
}

func (a App) analyzeRun(cmd *cobra.Command, path string) error {
	res, _, err := processOnce(path)
	if err != nil {
		return err
	}

	an, err := analyst.New(analyst.Config{
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
	})
	if err != nil {
		return err
	}

	analysis, err := an.Analyze(cmd.Context(), res.Observations)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	cmd.Println(analysis)
	return nil
}

// newestDatasetFile returns the most recently modified supported dataset file
// under dir, searching dataset subdirectories too.
func newestDatasetFile(dir string) (string, error) {
	var newest string
	var newestMod time.Time

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv", ".xlsx":
		default:
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan datasets directory %s: %v", dir, err)
	}
	if newest == "" {
		return "", fmt.Errorf("no dataset files found under %s", dir)
	}
	return newest, nil
}
