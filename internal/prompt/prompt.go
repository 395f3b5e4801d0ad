package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/report"
)

// Version names the template used for report generation.
const Version = "blood_gas_v1"

//go:embed templates/*.tmpl
var embedded embed.FS

type Renderer struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRenderer reads templates from dir when it holds a file with the same
// name, otherwise from the templates compiled into the binary.
func NewRenderer(dir string) *Renderer {
	return &Renderer{
		dir:       strings.TrimSpace(dir),
		templates: make(map[string]*template.Template),
	}
}

type fieldLine struct {
	Key         string
	Description string
	Unit        string
	Range       string
}

type reportData struct {
	Scenario          string
	GasType           domain.GasType
	Venous            bool
	Fields            []fieldLine
	InterpretationKey string
}

func (r *Renderer) Report(scenario string, gasType domain.GasType) (string, error) {
	fields := report.Fields()
	lines := make([]fieldLine, 0, len(fields))
	for _, field := range fields {
		lines = append(lines, fieldLine{
			Key:         field.Key,
			Description: field.Description,
			Unit:        field.Unit,
			Range:       field.RangeFor(gasType).Text,
		})
	}

	return r.render(Version+".tmpl", reportData{
		Scenario:          strings.TrimSpace(scenario),
		GasType:           gasType,
		Venous:            gasType == domain.GasTypeVenous,
		Fields:            lines,
		InterpretationKey: report.InterpretationKey,
	})
}

func (r *Renderer) render(fileName string, data any) (string, error) {
	tmpl, err := r.load(fileName)
	if err != nil {
		return "", err
	}

	buffer := bytes.NewBuffer(nil)
	if err := tmpl.Execute(buffer, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", fileName, err)
	}
	return buffer.String(), nil
}

func (r *Renderer) load(fileName string) (*template.Template, error) {
	r.mu.RLock()
	if tmpl, ok := r.templates[fileName]; ok {
		r.mu.RUnlock()
		return tmpl, nil
	}
	r.mu.RUnlock()

	content, err := r.read(fileName)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(fileName).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", fileName, err)
	}

	r.mu.Lock()
	r.templates[fileName] = tmpl
	r.mu.Unlock()

	return tmpl, nil
}

func (r *Renderer) read(fileName string) ([]byte, error) {
	if r.dir != "" {
		absolute := filepath.Join(r.dir, fileName)
		content, err := os.ReadFile(absolute)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read prompt template %s: %w", absolute, err)
		}
	}

	content, err := embedded.ReadFile("templates/" + fileName)
	if err != nil {
		return nil, fmt.Errorf("read embedded prompt template %s: %w", fileName, err)
	}
	return content, nil
}
