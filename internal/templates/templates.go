// Package templates manages the experiment template directory. Templates
// are Excel workbooks whose internal schema belongs to the engine; this
// package only stores, lists, and previews them.
package templates

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var templateExts = map[string]bool{
	".xlsx": true,
	".xls":  true,
}

// IsTemplate reports whether name has a recognized template extension.
func IsTemplate(name string) bool {
	return templateExts[strings.ToLower(filepath.Ext(name))]
}

// Template describes one stored template file.
type Template struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Manager operates on one templates directory.
type Manager struct {
	Dir string
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{Dir: dir}
}

// List returns the stored templates sorted by name.
func (m *Manager) List() ([]Template, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	var out []Template
	for _, e := range entries {
		if e.IsDir() || !IsTemplate(e.Name()) {
			continue
		}
		tpl := Template{Name: e.Name(), Path: filepath.Join(m.Dir, e.Name())}
		if info, err := e.Info(); err == nil {
			tpl.Size = info.Size()
			tpl.ModTime = info.ModTime()
		}
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve returns the full path for a stored template name.
func (m *Manager) Resolve(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid template name: %q", name)
	}
	if !IsTemplate(name) {
		return "", fmt.Errorf("unsupported template extension: %q", name)
	}
	path := filepath.Join(m.Dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("template %s: %w", name, err)
	}
	return path, nil
}

// Save stores the uploaded content under name in the templates directory.
func (m *Manager) Save(name string, r io.Reader) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid template name: %q", name)
	}
	if !IsTemplate(name) {
		return "", fmt.Errorf("unsupported template extension: %q", name)
	}
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(m.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write template: %w", err)
	}
	return path, nil
}

// Delete removes a stored template by name.
func (m *Manager) Delete(name string) error {
	path, err := m.Resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Preview holds the head of a template's first sheet.
type Preview struct {
	Sheet   string     `json:"sheet"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Total   int        `json:"total_rows"`
}

// PreviewTemplate reads the first sheet of an .xlsx template and returns
// its header row plus up to maxRows data rows. Legacy .xls files cannot be
// previewed, only stored and passed through to the engine.
func (m *Manager) PreviewTemplate(name string, maxRows int) (*Preview, error) {
	path, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	if strings.ToLower(filepath.Ext(name)) != ".xlsx" {
		return nil, fmt.Errorf("preview supports only .xlsx files")
	}
	if maxRows <= 0 {
		maxRows = 20
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	p := &Preview{Sheet: sheet}
	if len(rows) == 0 {
		return p, nil
	}
	p.Headers = rows[0]
	p.Total = len(rows) - 1
	for _, row := range rows[1:] {
		if len(p.Rows) >= maxRows {
			break
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}
