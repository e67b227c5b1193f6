package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one data row of a sensor file, split into trimmed fields.
type Row struct {
	Line   int
	Fields []string
}

// Table is the raw content of a sensor file.
// Mixed is set when field counts varied and rows were read positionally.
type Table struct {
	Header []string
	Rows   []Row
	Mixed  bool
}

// ReadTable parses delimited sensor data. It first attempts a strict parse
// where every row must have the header's field count; on any parse error it
// falls back to a line-by-line split whose rows are classified positionally.
// A file without data rows yields ErrNoData.
func ReadTable(r io.Reader) (*Table, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	// Spreadsheet exports often start with a UTF-8 byte order mark
	content = bytes.TrimPrefix(content, utf8BOM)

	table, err := readStrict(content)
	if err != nil {
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			return nil, err
		}
		table, err = readLines(content)
		if err != nil {
			return nil, err
		}
	}

	if len(table.Rows) == 0 {
		return nil, ErrNoData
	}
	return table, nil
}

func readStrict(content []byte) (*Table, error) {
	cr := csv.NewReader(bytes.NewReader(content))
	cr.TrimLeadingSpace = true

	table := &Table{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if table.Header == nil {
			table.Header = trimFields(record)
			continue
		}

		line, _ := cr.FieldPos(0)
		fields := trimFields(record)
		if isBlank(fields) {
			continue
		}
		table.Rows = append(table.Rows, Row{Line: line, Fields: fields})
	}
	return table, nil
}

func readLines(content []byte) (*Table, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	table := &Table{Mixed: true}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			table.Header = trimFields(strings.Split(line, ","))
			continue
		}
		if line == "" {
			continue
		}
		table.Rows = append(table.Rows, Row{
			Line:   lineNum,
			Fields: trimFields(strings.Split(line, ",")),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan input: %w", err)
	}
	return table, nil
}

func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
