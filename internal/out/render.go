// Package out renders command envelopes as JSON or as plain key=value lines.
//
// Views nest (a submission carries its quote, a plan carries its decoded
// commands), so --select takes dotted paths such as quote.native_fee or
// decoded.0.command, and plain output flattens nested values the same way.
package out

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/tomo-cli/internal/config"
	"github.com/ggonzalez94/tomo-cli/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(normalizeValue(data), settings.SelectFields)
	}

	asJSON := settings.OutputMode == "json"
	switch {
	case settings.ResultsOnly && asJSON:
		return writeJSON(w, data)
	case settings.ResultsOnly:
		return renderPlain(w, data)
	case asJSON:
		env.Data = data
		return writeJSON(w, env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

// RenderError writes an error envelope. Field selection and results-only
// never apply to errors.
func RenderError(w io.Writer, env model.Envelope, settings config.Settings) error {
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	if env.Data == nil {
		env.Data = []any{}
	}
	return Render(w, env, settings)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints one line per list item, or a single line otherwise.
func renderPlain(w io.Writer, data any) error {
	data = normalizeValue(data)
	items, ok := data.([]any)
	if !ok {
		_, err := fmt.Fprintln(w, toLine(data))
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, toLine(item)); err != nil {
			return err
		}
	}
	return nil
}

func project(data any, fields []string) any {
	switch t := data.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return data
	}
}

// projectMap keys the result by the selected path as written.
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, strings.Split(f, ".")); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(v any, path []string) (any, bool) {
	for _, part := range path {
		switch t := v.(type) {
		case map[string]any:
			next, ok := t[part]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			v = t[i]
		default:
			return nil, false
		}
	}
	return v, true
}

// normalizeValue round-trips v through JSON so views and maps project alike.
// Numbers stay json.Number so nonces and block heights keep every digit.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	flat := map[string]string{}
	flatten("", v, flat)
	if len(flat) == 1 {
		if s, ok := flat[""]; ok {
			return s
		}
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, v any, out map[string]string) {
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			out[prefix] = "{}"
			return
		}
		for k, child := range t {
			flatten(join(k), child, out)
		}
	case []any:
		if len(t) == 0 {
			out[prefix] = "[]"
			return
		}
		for i, child := range t {
			flatten(join(strconv.Itoa(i)), child, out)
		}
	case nil:
		out[prefix] = "null"
	case string:
		out[prefix] = t
	case json.Number:
		out[prefix] = t.String()
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			out[prefix] = fmt.Sprint(t)
			return
		}
		out[prefix] = string(buf)
	}
}
