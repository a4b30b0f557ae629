// Package ingest loads complaint records from the supported raw sources: a
// CSV export or a sqlite table. Rows without a parseable created date are
// dropped; everything else is normalized into ComplaintRecord.
package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/civicworks/complaint-forecast/internal/config"
	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

const (
	colCreated      = "CREATED DATE"
	colClosed       = "CLOSED DATE"
	colNeighborhood = "NEIGHBORHOOD"
	colDepartment   = "DEPARTMENT"
	colDivision     = "DIVISION"
	colCategory     = "CATEGORY"
	colCaseType     = "CASE TYPE"
)

var requiredColumns = []string{
	colCreated, colClosed, colNeighborhood,
	colDepartment, colDivision, colCategory, colCaseType,
}

// Load picks the loader from the configured records path: .csv files go
// through the CSV reader, anything else is treated as a sqlite database.
func Load(ctx context.Context, cfg config.DataConfig, logger *slog.Logger) ([]models.ComplaintRecord, error) {
	if strings.EqualFold(filepath.Ext(cfg.RecordsPath), ".csv") {
		return LoadCSV(cfg.RecordsPath, logger)
	}
	if cfg.RecordsTable == "" {
		return nil, utils.NewAppError("ingest.load", fmt.Sprintf("sqlite records source %s requires a table name", cfg.RecordsPath), nil)
	}
	return LoadSQLite(ctx, cfg.RecordsPath, cfg.RecordsTable, logger)
}

// LoadCSV reads a 311 CSV export. Column order is taken from the header row;
// matching is case-insensitive.
func LoadCSV(path string, logger *slog.Logger) ([]models.ComplaintRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewAppError("ingest.csv", "open records source", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var records []models.ComplaintRecord
	dropped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		field := func(name string) string {
			i := index[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec, ok := buildRecord(field)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	logger.Info("records loaded", "source", path, "rows", len(records), "dropped", dropped)
	return records, nil
}

// LoadSQLite reads the records table produced by the refresh job.
func LoadSQLite(ctx context.Context, path, table string, logger *slog.Logger) ([]models.ComplaintRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewAppError("ingest.sqlite", "open records database", err)
	}
	defer db.Close()

	query := fmt.Sprintf(
		`SELECT "%s", "%s", "%s", "%s", "%s", "%s", "%s" FROM %q`,
		colCreated, colClosed, colNeighborhood,
		colDepartment, colDivision, colCategory, colCaseType, table)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query records table: %w", err)
	}
	defer rows.Close()

	var records []models.ComplaintRecord
	dropped := 0
	for rows.Next() {
		var created, closed, neighborhood, department, division, category, caseType sql.NullString
		if err := rows.Scan(&created, &closed, &neighborhood, &department, &division, &category, &caseType); err != nil {
			return nil, fmt.Errorf("scan records row: %w", err)
		}

		values := map[string]string{
			colCreated:      created.String,
			colClosed:       closed.String,
			colNeighborhood: neighborhood.String,
			colDepartment:   department.String,
			colDivision:     division.String,
			colCategory:     category.String,
			colCaseType:     caseType.String,
		}
		rec, ok := buildRecord(func(name string) string { return strings.TrimSpace(values[name]) })
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records table: %w", err)
	}

	logger.Info("records loaded", "source", path, "table", table, "rows", len(records), "dropped", dropped)
	return records, nil
}

// buildRecord assembles one record from a column accessor. Returns false when
// the created date is missing or unparseable.
func buildRecord(field func(string) string) (models.ComplaintRecord, bool) {
	created, err := utils.ParseDate(field(colCreated))
	if err != nil {
		return models.ComplaintRecord{}, false
	}

	rec := models.ComplaintRecord{
		CreatedAt:    created,
		Neighborhood: models.NormalizeLabel(field(colNeighborhood)),
		Department:   models.NormalizeLabel(field(colDepartment)),
		Division:     models.NormalizeLabel(field(colDivision)),
		Category:     models.NormalizeLabel(field(colCategory)),
		CaseType:     models.NormalizeLabel(field(colCaseType)),
	}
	// A malformed closed date reads as still open.
	if closed, err := utils.ParseDate(field(colClosed)); err == nil {
		rec.ClosedAt = closed
	}
	return rec, true
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("records source missing column %q", required)
		}
	}
	return index, nil
}
