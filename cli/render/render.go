// Package render formats command output for the srx-export CLI.
//
// Format selection:
//   - a TTY defaults to table, anything else to json
//   - --format always overrides the default
//   - unknown formats are errors
//
// --no-color affects table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// ParseFormat parses a format string. Empty means "pick a default".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a stdout renderer from the --format and --no-color flags.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return &Renderer{format: format, noColor: c.Bool("no-color"), out: os.Stdout}, nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		v := reflect.ValueOf(data)
		if v.Kind() == reflect.Slice {
			return r.renderRows(v)
		}
		return r.renderFields(v)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// Heading prints a section title. Only table output gets headings.
func (r *Renderer) Heading(title string) {
	if r.format != FormatTable {
		return
	}
	fmt.Fprintln(r.out, r.style(headerStyle, title))
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.noColor {
		return text
	}
	return s.Render(text)
}

// styleCell colors outcome statuses.
func (r *Renderer) styleCell(text string) string {
	switch text {
	case "success", "succeeded":
		return r.style(successStyle, text)
	case "skipped":
		return r.style(skippedStyle, text)
	case "failed", "failure":
		return r.style(failedStyle, text)
	}
	return text
}

func (r *Renderer) renderRows(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	headers := columns(indirect(v.Index(0)))
	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = r.style(headerStyle, strings.ToUpper(h))
	}
	fmt.Fprintln(w, strings.Join(styled, "\t"))

	for i := range v.Len() {
		row := indirect(v.Index(i))
		cells := make([]string, len(headers))
		for j, h := range headers {
			cells[j] = r.styleCell(formatValue(cell(row, j, h)))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func (r *Renderer) renderFields(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v = indirect(v)

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(t.Field(i)), r.styleCell(formatValue(v.Field(i))))
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\t%s\n", k, r.styleCell(formatValue(v.MapIndex(reflect.ValueOf(k)))))
		}
	default:
		if v.IsValid() {
			fmt.Fprintf(w, "%v\n", v.Interface())
		}
	}
	return w.Flush()
}

// columns returns the header names of a row value.
func columns(v reflect.Value) []string {
	switch v.Kind() {
	case reflect.Struct:
		var headers []string
		t := v.Type()
		for i := range t.NumField() {
			if t.Field(i).IsExported() {
				headers = append(headers, fieldName(t.Field(i)))
			}
		}
		return headers
	case reflect.Map:
		return sortedKeys(v)
	default:
		return []string{"value"}
	}
}

func cell(row reflect.Value, col int, header string) reflect.Value {
	switch row.Kind() {
	case reflect.Struct:
		t := row.Type()
		n := -1
		for i := range t.NumField() {
			if !t.Field(i).IsExported() {
				continue
			}
			n++
			if n == col {
				return row.Field(i)
			}
		}
		return reflect.Value{}
	case reflect.Map:
		return row.MapIndex(reflect.ValueOf(header))
	default:
		return row
	}
}

func sortedKeys(v reflect.Value) []string {
	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	slices.Sort(keys)
	return keys
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.Format(time.RFC3339)
		}
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
