package repositories

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
)

// StatSource returns the version of the file at path. A missing or
// unreadable file, or a directory, is reported as SOURCE_UNAVAILABLE.
func StatSource(path string) (models.SourceVersion, error) {
	if path == "" {
		return models.SourceVersion{}, errors.New(errors.CodeSourceUnavailable, "source path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.SourceVersion{}, errors.Wrapf(err, errors.CodeSourceUnavailable, "cannot stat source %s", path).
			WithDetail("path", path)
	}
	if info.IsDir() {
		return models.SourceVersion{}, errors.Newf(errors.CodeSourceUnavailable, "source %s is a directory", path).
			WithDetail("path", path)
	}

	return models.SourceVersion{
		Path:    path,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, nil
}

// LogReport logs the outcome of a load, one debug line per skipped row.
func LogReport(logger zerolog.Logger, report models.LoadReport) {
	for _, rowErr := range report.Skipped {
		logger.Debug().Int("row", rowErr.Row).Str("column", rowErr.Column).Str("reason", rowErr.Reason).Msg("Skipped row")
	}

	event := logger.Info()
	if len(report.Skipped) > 0 {
		event = logger.Warn()
	}
	event.
		Int("rows_read", report.RowsRead).
		Int("loaded", report.Loaded).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).
		Msg("Loaded source")
}
