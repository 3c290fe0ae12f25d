// Package mapping reads operator mapping rows from an xlsx workbook and
// exchanges template input sets with it, one sheet per device template.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yourorg/edge-orchestrator/pkg/templateinput"
)

// Column headers
const (
	ColumnTemplateName  = "TemplateName"
	ColumnChassisNumber = "DeviceChassisNumber"
	ColumnOldDevice     = "OldDevice"
	ColumnNewDevice     = "NewDevice"
	ColumnViaSupport    = "RMAviaTAC"
)

// Kind selects a mapping sheet.
type Kind int

// Mapping kinds
const (
	KindCommission Kind = iota + 1
	KindReplace
	KindReclassification
)

// Sheet returns the sheet holding rows of this kind.
func (k Kind) Sheet() string {
	switch k {
	case KindCommission:
		return "Commission"
	case KindReplace:
		return "RMA"
	case KindReclassification:
		return "Reclassification"
	default:
		return ""
	}
}

func (k Kind) requiredColumns() []string {
	if k == KindReplace {
		return []string{ColumnOldDevice, ColumnNewDevice, ColumnViaSupport}
	}
	return []string{ColumnTemplateName, ColumnChassisNumber}
}

// Row is one mapping row. Err is set when the row is malformed; the other
// fields are then incomplete.
type Row struct {
	Number            int
	TemplateName      string
	ChassisNumbers    []string
	OldChassis        string
	NewChassis        string
	ReplaceViaSupport bool
	Err               error
}

// MalformedInputError is returned for a missing sheet, column or cell.
type MalformedInputError struct {
	Sheet  string
	Row    int
	Column string
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("sheet %q row %d column %q: %s", e.Sheet, e.Row, e.Column, e.Reason)
	}
	if e.Column != "" {
		return fmt.Sprintf("sheet %q column %q: %s", e.Sheet, e.Column, e.Reason)
	}
	return fmt.Sprintf("sheet %q: %s", e.Sheet, e.Reason)
}

// Workbook is an xlsx mapping file. Calls are serialized because every call
// opens and saves the file.
type Workbook struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// Open returns a workbook backed by the file at path.
func Open(path string, logger *zap.Logger) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	return &Workbook{path: path, logger: logger}, nil
}

// Path returns the file path.
func (w *Workbook) Path() string {
	return w.path
}

// LoadRows reads every non-empty row of the sheet for kind.
func (w *Workbook) LoadRows(kind Kind) ([]Row, error) {
	sheet := kind.Sheet()
	if sheet == "" {
		return nil, fmt.Errorf("unknown mapping kind %d", kind)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	records, err := w.readSheet(sheet)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &MalformedInputError{Sheet: sheet, Reason: "sheet is empty"}
	}

	columns := indexHeader(records[0])
	for _, name := range kind.requiredColumns() {
		if _, ok := columns[name]; !ok {
			return nil, &MalformedInputError{Sheet: sheet, Column: name, Reason: "missing column"}
		}
	}

	var rows []Row
	for i, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		// row numbers are 1-based and the header is row 1
		row := parseRow(kind, sheet, i+2, record, columns)
		rows = append(rows, row)
	}

	w.logger.Info("loaded mapping rows",
		zap.String("file", w.path),
		zap.String("sheet", sheet),
		zap.Int("rows", len(rows)))
	return rows, nil
}

func parseRow(kind Kind, sheet string, number int, record []string, columns map[string]int) Row {
	row := Row{Number: number}
	cell := func(name string) string {
		idx := columns[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	for _, name := range kind.requiredColumns() {
		if name == ColumnViaSupport {
			continue
		}
		if cell(name) == "" {
			row.Err = &MalformedInputError{Sheet: sheet, Row: number, Column: name, Reason: "empty cell"}
			return row
		}
	}

	switch kind {
	case KindReplace:
		row.OldChassis = cell(ColumnOldDevice)
		row.NewChassis = cell(ColumnNewDevice)
		row.ReplaceViaSupport = strings.EqualFold(cell(ColumnViaSupport), "Y")
	default:
		row.TemplateName = cell(ColumnTemplateName)
		for _, chassis := range strings.Split(cell(ColumnChassisNumber), ",") {
			if chassis = strings.TrimSpace(chassis); chassis != "" {
				row.ChassisNumbers = append(row.ChassisNumbers, chassis)
			}
		}
	}
	return row
}

// ExportInputSets writes sets to sheet, replacing its content. The header is
// the union of all keys in order of first appearance.
func (w *Workbook) ExportInputSets(sheet string, sets []*templateinput.InputSet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return &MalformedInputError{Sheet: sheet, Reason: err.Error()}
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return &MalformedInputError{Sheet: sheet, Reason: err.Error()}
		}
	} else if err := clearSheet(f, sheet); err != nil {
		return err
	}

	var header []string
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, k := range set.Keys() {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}

	if err := writeRow(f, sheet, 1, stringsToCells(header)); err != nil {
		return err
	}
	for i, set := range sets {
		cells := make([]interface{}, len(header))
		for j, k := range header {
			v, _ := set.Get(k)
			cells[j] = toCell(v)
		}
		if err := writeRow(f, sheet, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("failed to save mapping file: %w", err)
	}

	w.logger.Info("exported template input",
		zap.String("file", w.path),
		zap.String("sheet", sheet),
		zap.Int("devices", len(sets)))
	return nil
}

// ImportInputSets reads back the input sets of sheet, one per non-empty row.
// Empty cells come back as nil, boolean cells as bool and numeric cells as
// json.Number, so values keep the JSON types they were exported with.
func (w *Workbook) ImportInputSets(sheet string) ([]*templateinput.InputSet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx == -1 {
		return nil, &MalformedInputError{Sheet: sheet, Reason: "missing sheet"}
	}
	records, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil, &MalformedInputError{Sheet: sheet, Reason: "sheet is empty"}
	}

	header := records[0]
	var sets []*templateinput.InputSet
	for i, record := range records[1:] {
		if isBlank(record) {
			continue
		}
		set := templateinput.New()
		for j, key := range header {
			if key == "" {
				continue
			}
			raw := ""
			if j < len(record) {
				raw = record[j]
			}
			value, err := cellValue(f, sheet, j+1, i+2, raw)
			if err != nil {
				return nil, err
			}
			set.Set(key, value)
		}
		sets = append(sets, set)
	}

	w.logger.Info("imported template input",
		zap.String("file", w.path),
		zap.String("sheet", sheet),
		zap.Int("devices", len(sets)))
	return sets, nil
}

// cellValue types the raw value of a cell from its stored cell type.
func cellValue(f *excelize.File, sheet string, col, row int, raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return nil, err
	}
	cellType, err := f.GetCellType(sheet, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell %s!%s: %w", sheet, cell, err)
	}

	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if _, err := strconv.ParseFloat(raw, 64); err == nil {
			return json.Number(raw), nil
		}
	}
	return raw, nil
}

func (w *Workbook) readSheet(sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx == -1 {
		return nil, &MalformedInputError{Sheet: sheet, Reason: "missing sheet"}
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return records, nil
}

func clearSheet(f *excelize.File, sheet string) error {
	records, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	for row := len(records); row >= 1; row-- {
		if err := f.RemoveRow(sheet, row); err != nil {
			return fmt.Errorf("failed to clear sheet %q: %w", sheet, err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write sheet %q row %d: %w", sheet, row, err)
	}
	return nil
}

func indexHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, ok := columns[name]; !ok && name != "" {
			columns[name] = i
		}
	}
	return columns
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func stringsToCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func toCell(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
