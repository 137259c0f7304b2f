package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rpattn/certrecon/internal/domain"
	"github.com/rpattn/certrecon/internal/matching"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	// Day-first layouts precede month-first ones; certificates are issued with
	// dd/mm/yyyy dates.
	timeLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"01/02/2006",
		"01-02-06",
	}

	// headerAliases maps common spreadsheet column titles to row field names.
	headerAliases = map[string]string{
		"fecha_emision":           domain.FieldEmissionDate,
		"fecha_de_emision":        domain.FieldEmissionDate,
		"emision":                 domain.FieldEmissionDate,
		"emission":                domain.FieldEmissionDate,
		"razon":                   domain.FieldOrgLegalName,
		"nombre":                  domain.FieldOrgLegalName,
		"domicilio":               domain.FieldOrgAddress,
		"mail":                    domain.FieldOrgEmail,
		"correo":                  domain.FieldOrgEmail,
		"telefono_contacto":       domain.FieldOrgPhone,
		"tel":                     domain.FieldOrgPhone,
		"codigo":                  domain.FieldProductCode,
		"producto":                domain.FieldProductCode,
		"tipo":                    domain.FieldProductCertificationType,
		"certificacion":           domain.FieldProductCertificationType,
		"vencimiento":             domain.FieldProductExpiryDate,
		"fecha_de_vencimiento":    domain.FieldProductExpiryDate,
		"responsable_tecnico":     domain.FieldProductResponsibleParty,
		"persona_de_contacto":     domain.FieldOrgContact,
		"contacto_administrativo": domain.FieldOrgContact,
	}

	dateFields = map[string]struct{}{
		domain.FieldEmissionDate:      {},
		domain.FieldProductExpiryDate: {},
	}
)

type tableData struct {
	headers []string
	rows    [][]string
}

// SourceRow is one non-empty data row with its position in the upload.
type SourceRow struct {
	Number int
	Row    domain.NormalizedRow
}

// ParseRows reads a CSV or XLSX upload into normalized rows. Blank rows are
// dropped; the remaining rows are numbered from 1.
func ParseRows(fileName string, payload []byte) ([]SourceRow, error) {
	table, err := parseTable(fileName, payload)
	if err != nil {
		return nil, err
	}

	rows := make([]SourceRow, 0, len(table.rows))
	for i, cells := range table.rows {
		rows = append(rows, SourceRow{Number: i + 1, Row: normalizeRow(table.headers, cells)})
	}
	return rows, nil
}

func normalizeRow(headers, cells []string) domain.NormalizedRow {
	row := make(domain.NormalizedRow, len(headers))
	for i, header := range headers {
		value := strings.TrimSpace(cells[i])
		if value == "" {
			continue
		}
		if _, isDate := dateFields[header]; isDate {
			if ts, err := parseTimestamp(value); err == nil {
				row[header] = ts
				continue
			}
		}
		row[header] = value
	}
	return row
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	if semicolonSeparated(payload) {
		csvReader.Comma = ';'
	}

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

// semicolonSeparated sniffs the header line of spreadsheets exported with a
// comma decimal separator.
func semicolonSeparated(payload []byte) bool {
	line := payload
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		line = payload[:idx]
	}
	return bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','})
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{headers: headers, rows: dataRows}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeHeaders turns column titles into lower_snake_case field names,
// folding diacritics and resolving known aliases.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := slugPattern.ReplaceAllString(matching.NormalizeName(value), "_")
		name = strings.Trim(name, "_")
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}
