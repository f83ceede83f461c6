// Package export renders completed queue items as platform-specific CSV or XLSX sheets.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ubuygold/stockmeta/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrNothingToExport is returned when no row has a result.
var ErrNothingToExport = errors.New("no generated metadata to export")

// ParseFormat accepts "csv" (the default for an empty value) or "xlsx".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Options select the column layout and file naming of an export.
type Options struct {
	Platform string
	// Vector rewrites every file name's extension to .eps.
	Vector bool
	Format Format
}

// Row is one completed item.
type Row struct {
	FileName string
	Result   model.MetadataResult
}

// Columns returns the header for a platform.
func Columns(platform string) []string {
	switch platform {
	case "Adobe Stock":
		return []string{"Filename", "Title", "Keywords", "Category"}
	case "Shutterstock":
		return []string{"Filename", "Description", "Keywords", "Categories"}
	default:
		return []string{"Filename", "Title", "Description", "Keywords", "Category"}
	}
}

// VectorName replaces the extension of name with .eps, or appends it when there is none.
func VectorName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && i < len(name)-1 && !strings.ContainsRune(name[i+1:], '/') {
		name = name[:i]
	}
	return name + ".eps"
}

// Records returns the header and one record per row.
func Records(opts Options, rows []Row) [][]string {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, Columns(opts.Platform))
	for _, row := range rows {
		name := row.FileName
		if opts.Vector {
			name = VectorName(name)
		}
		r := row.Result
		keywords := strings.Join(r.Keywords, ", ")
		switch opts.Platform {
		case "Adobe Stock":
			records = append(records, []string{name, r.Title, keywords, r.Category})
		case "Shutterstock":
			records = append(records, []string{name, r.Description, keywords, r.Category})
		default:
			records = append(records, []string{name, r.Title, r.Description, keywords, r.Category})
		}
	}
	return records
}

// Write renders rows in the requested format.
func Write(w io.Writer, opts Options, rows []Row) error {
	if len(rows) == 0 {
		return ErrNothingToExport
	}
	records := Records(opts, rows)
	switch opts.Format {
	case FormatXLSX:
		return writeXLSX(w, opts.Platform, records)
	case FormatCSV, "":
		return writeCSV(w, records)
	}
	return fmt.Errorf("unsupported export format %q", opts.Format)
}

func writeCSV(w io.Writer, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, platform string, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := sheetName(platform)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// sheetName strips characters Excel does not allow in sheet names.
func sheetName(platform string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return -1
		}
		return r
	}, platform)
	if name == "" {
		name = "Metadata"
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}

// FileName returns the download name, e.g. Adobe_Stock_Metadata_Batch_1700000000000.csv.
func FileName(platform string, format Format, now time.Time) string {
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("%s_Metadata_Batch_%d.%s", strings.ReplaceAll(platform, " ", "_"), now.UnixMilli(), format)
}
