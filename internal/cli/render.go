package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Format represents an output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates the -o flag
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (use table, json or yaml)", s)
}

// Renderer handles output rendering
type Renderer struct {
	writer io.Writer
	format Format
}

// NewRenderer creates a new renderer
func NewRenderer(writer io.Writer, format Format) *Renderer {
	return &Renderer{writer: writer, format: format}
}

// rendererFor builds a renderer from the command's -o flag
func rendererFor(cmd *cobra.Command) (*Renderer, error) {
	raw, _ := cmd.Flags().GetString("output")
	format, err := ParseFormat(raw)
	if err != nil {
		return nil, err
	}
	return NewRenderer(cmd.OutOrStdout(), format), nil
}

// Render writes data as JSON or YAML, or as the table built by table
func (r *Renderer) Render(data interface{}, table func() ([]string, [][]string)) error {
	switch r.format {
	case FormatJSON:
		return r.RenderJSON(data)
	case FormatYAML:
		return r.RenderYAML(data)
	}
	headers, rows := table()
	return r.RenderTable(headers, rows)
}

// RenderJSON renders data as JSON
func (r *Renderer) RenderJSON(data interface{}) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// RenderYAML renders data as YAML
func (r *Renderer) RenderYAML(data interface{}) error {
	encoder := yaml.NewEncoder(r.writer)
	defer encoder.Close()
	return encoder.Encode(data)
}

// RenderTable renders data as a formatted table. A nil header renders
// key/value rows without a header line.
func (r *Renderer) RenderTable(headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		if len(widths) < len(row) {
			widths = append(widths, make([]int, len(row)-len(widths))...)
		}
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	if len(headers) > 0 {
		if len(rows) == 0 {
			_, err := fmt.Fprintln(r.writer, "(none)")
			return err
		}
		r.renderRow(headers, widths)
		sep := make([]string, len(headers))
		for i := range headers {
			sep[i] = strings.Repeat("-", widths[i])
		}
		r.renderRow(sep, widths)
	}
	for _, row := range rows {
		r.renderRow(row, widths)
	}
	return nil
}

func (r *Renderer) renderRow(cells []string, widths []int) {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			padded[i] = cell
			continue
		}
		padded[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
	}
	fmt.Fprintln(r.writer, strings.Join(padded, "  "))
}
