package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sypherin/comply/internal/devutil"
)

func (a *app) jsonOutput() bool {
	return a.opts.output == "json"
}

// writeJSON prints v as indented JSON. Slices are printed element by element
// through --fields when it is set.
func (a *app) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(a.opts.fields) == 0 {
		return enc.Encode(v)
	}
	return enc.Encode(project(v, a.opts.fields))
}

func project(v any, fields []string) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return devutil.Pick(v, fields...)
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, devutil.Pick(it, fields...))
	}
	return out
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printWarnings(w io.Writer, n int) {
	if n > 0 {
		fmt.Fprintf(w, "%d row(s) skipped, see warnings\n", n)
	}
}
