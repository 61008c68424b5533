package out

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/ggonzalez94/sncast/internal/config"
	"github.com/ggonzalez94/sncast/internal/model"
)

// Render writes env in the configured output mode. With the int value
// format every 0x-prefixed value in data is printed as a decimal string;
// meta is never rewritten.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	intFormat := settings.ValueFormat == config.ValueFormatInt
	data := formatValues(normalizeValue(env.Data), intFormat)
	if env.Data == nil {
		data = nil
	}
	if env.Error != nil && env.Error.Data != nil {
		body := *env.Error
		body.Data = formatValues(normalizeValue(body.Data), intFormat)
		env.Error = &body
	}

	if settings.OutputMode != "plain" {
		env.Data = data
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
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

// FormatValue renders a single felt-like string in the requested format.
func FormatValue(v string, intFormat bool) string {
	if !intFormat {
		return v
	}
	clean := strings.ToLower(strings.TrimSpace(v))
	if !strings.HasPrefix(clean, "0x") || len(clean) == 2 {
		return v
	}
	n, ok := new(big.Int).SetString(clean[2:], 16)
	if !ok {
		return v
	}
	return n.String()
}

func formatValues(v any, intFormat bool) any {
	if !intFormat {
		return v
	}
	switch t := v.(type) {
	case string:
		return FormatValue(t, true)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = formatValues(item, true)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = formatValues(item, true)
		}
		return out
	default:
		return v
	}
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			item := normalizeValue(v.Index(i).Interface())
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val := t[k]
			if nested, ok := val.(map[string]any); ok {
				line, err := toLine(nested)
				if err != nil {
					return "", err
				}
				val = "{" + line + "}"
			}
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
