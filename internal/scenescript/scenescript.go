package scenescript

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"assetlib/internal/config"
	"assetlib/internal/fileutil"
	"assetlib/internal/services"
)

const component = "scenescript"

// Exit codes used by the generated script.
const (
	ExitInputNotFound     = 3
	ExitNodeNotFound      = 4
	ExitParameterNotFound = 5
)

//go:embed template.py.tmpl
var scriptTemplate string

var tmpl = template.Must(template.New("scene").Funcs(template.FuncMap{
	"py":   Quote,
	"flag": pyBool,
}).Parse(scriptTemplate))

// Params are the values baked into a scene-setup script.
type Params struct {
	AssetName         string
	CheckedOut        bool
	SourcePath        string
	OutputScenePath   string
	TemplateScene     string
	ControllerNode    string
	AssetParameter    string
	CheckoutParameter string
}

// FromConfig fills the scene template settings of p from cfg.
func (p Params) FromConfig(cfg *config.Config) Params {
	p.TemplateScene = cfg.DCC.TemplateScene
	p.ControllerNode = cfg.DCC.ControllerNode
	p.AssetParameter = cfg.DCC.AssetParameter
	p.CheckoutParameter = cfg.DCC.CheckoutParameter
	return p
}

// Generate renders the hython script for p. Output differs between the two
// checkout states only in the CHECKED_OUT literal.
func Generate(p Params) (string, error) {
	for _, field := range []struct{ name, value string }{
		{"asset name", p.AssetName},
		{"source path", p.SourcePath},
		{"output scene path", p.OutputScenePath},
		{"template scene", p.TemplateScene},
		{"controller node", p.ControllerNode},
		{"asset parameter", p.AssetParameter},
		{"checkout parameter", p.CheckoutParameter},
	} {
		if strings.TrimSpace(field.value) == "" {
			return "", services.Wrap(services.ErrValidation, component, "generate", field.name+" is required", nil)
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render scene script: %w", err)
	}
	return buf.String(), nil
}

// Write stores script at path atomically.
func Write(path, script string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(script), 0o644); err != nil {
		return services.Wrap(services.ErrScriptWriteFailed, component, "write", path, err)
	}
	return nil
}

// Quote returns s as a double-quoted Python string literal. Backslashes,
// quotes, control characters and non-ASCII runes are escaped so the literal
// is plain ASCII. Invalid UTF-8 becomes U+FFFD.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20 || r == 0x7f:
				fmt.Fprintf(&b, `\x%02x`, r)
			case r < utf8.RuneSelf:
				b.WriteRune(r)
			case r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			default:
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
