package sheet

import (
	"encoding/json"
	"log"
	"os"
)

// Template is the initial document content for a sheet id that has never
// been seen before.
type Template struct {
	SetByGM     json.RawMessage `json:"set_by_gm"`
	SetByPlayer json.RawMessage `json:"set_by_player"`
}

// TemplateLoader supplies the default template for new sheets.
type TemplateLoader interface {
	Load() Template
}

// Minimal sheet used when the template file is missing or broken, so a
// join can always be answered.
var fallbackTemplate = Template{
	SetByGM:     json.RawMessage(`{"localization":{"title":"Head First!"},"attributes":[]}`),
	SetByPlayer: EmptyPlayerPortion,
}

type fileTemplateLoader struct {
	path string
}

// NewFileTemplateLoader reads the default template from a JSON file on
// every Load, so edits to the file take effect without a restart.
func NewFileTemplateLoader(path string) TemplateLoader {
	return &fileTemplateLoader{path: path}
}

func (l *fileTemplateLoader) Load() Template {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		log.Printf("template load %s: %v, using fallback", l.path, err)
		return fallbackTemplate
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		log.Printf("template parse %s: %v, using fallback", l.path, err)
		return fallbackTemplate
	}
	if len(t.SetByGM) == 0 {
		t.SetByGM = fallbackTemplate.SetByGM
	}
	if len(t.SetByPlayer) == 0 {
		t.SetByPlayer = EmptyPlayerPortion
	}
	return t
}

// StaticTemplateLoader returns a fixed template, used in tests and as the
// loader of last resort.
type StaticTemplateLoader struct {
	Template Template
}

func (l StaticTemplateLoader) Load() Template {
	t := l.Template
	if len(t.SetByGM) == 0 {
		t = fallbackTemplate
	}
	return t
}
