package motion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is a delimited motion export: one header and raw string cells.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// NewTable builds a table from a header and rows. Header names are
// canonicalised so that exports using either naming scheme look the same.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: make([]string, len(header)), Rows: rows, index: make(map[string]int, len(header))}
	for i, h := range header {
		name := canonical(strings.TrimSpace(h))
		t.Header[i] = name
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
	return t
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	if i, ok := t.index[canonical(name)]; ok {
		return i
	}
	return -1
}

// Cell returns the trimmed cell at row r, column c, or "" when the row is short.
func (t *Table) Cell(r, c int) string {
	if c < 0 || c >= len(t.Rows[r]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[r][c])
}

// ReadFile reads a motion export from disk.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open motion file: %w", err)
	}
	defer f.Close()
	return ReadTable(f)
}

// ReadTable parses a motion export. Lines starting with "//" are comments.
// The header is the first line starting with PacketCounter, else the first
// line mentioning UTC_Year, else the first non-comment line. Cells are
// tab separated when the header contains a tab and whitespace separated
// otherwise.
func ReadTable(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read motion table: %w", err)
	}

	h := headerLine(lines)
	if h < 0 {
		return nil, fmt.Errorf("%w: motion table has no header line", ErrNoTimeline)
	}
	tabbed := strings.Contains(lines[h], "\t")
	split := func(s string) []string {
		if tabbed {
			return strings.Split(s, "\t")
		}
		return strings.Fields(s)
	}

	var rows [][]string
	for _, line := range lines[h+1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, split(line))
	}
	return NewTable(split(lines[h]), rows), nil
}

func headerLine(lines []string) int {
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "PacketCounter") {
			return i
		}
	}
	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), "utc_year") {
			return i
		}
	}
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return -1
}
