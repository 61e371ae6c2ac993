package field

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pitabwire/admindash/model"
)

// ErrorClass is the class applied to controls that carry a validation error.
const ErrorClass = "field-error"

// RenderOptions carries the per-render state that is not part of the field.
type RenderOptions struct {
	Loading bool
	Error   string
}

// Render maps a field and its current value to the control the UI should
// draw. Changes coming back from that control go through ParseInput.
func Render(f model.FieldDefinition, value any, opts RenderOptions) model.Control {
	c := model.Control{
		Key:         f.Key,
		Widget:      model.WidgetInput,
		InputType:   "text",
		Placeholder: placeholderFor(f),
		Disabled:    f.ReadOnly || opts.Loading,
		Invalid:     opts.Error != "",
		Wrapped:     true,
	}
	if c.Invalid {
		c.ClassName = ErrorClass
	}

	switch f.Type {
	case model.FieldText, model.FieldEmail, model.FieldPassword, model.FieldURL, model.FieldTel:
		c.InputType = string(f.Type)
		c.Value = toString(value)
	case model.FieldNumber:
		c.InputType = "number"
		c.Value = toString(value)
	case model.FieldTextarea:
		c.Widget = model.WidgetTextarea
		c.InputType = ""
		c.Rows = 4
		c.Value = toString(value)
	case model.FieldJSON:
		c.Widget = model.WidgetTextarea
		c.InputType = ""
		c.Rows = 8
		c.Value = jsonText(value)
	case model.FieldBoolean:
		c.Widget = model.WidgetCheckbox
		c.InputType = "checkbox"
		c.Checked, _ = toBool(value)
		c.InlineLabel = labelOf(f)
		c.Wrapped = false
	case model.FieldSelect:
		c.Widget = model.WidgetSelect
		c.InputType = ""
		c.Options = f.Options
		c.Value = toString(value)
	case model.FieldDate:
		c.InputType = "date"
		c.Value = dateText(value, "2006-01-02")
	case model.FieldDatetime:
		c.InputType = "datetime-local"
		c.Value = dateText(value, "2006-01-02T15:04")
	case model.FieldFile:
		c.Value = toString(value)
	default:
		c.Value = toString(value)
	}
	return c
}

// ParseInput converts the raw string a control emitted into the value stored
// for the field.
func ParseInput(f model.FieldDefinition, raw string) any {
	switch f.Type {
	case model.FieldNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return raw
		}
		return n
	case model.FieldBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "on", "1", "yes":
			return true
		}
		return false
	default:
		return raw
	}
}

// NormalizeValue coerces a decoded JSON value into the shape the field stores,
// applying the same rules as ParseInput to string inputs.
func NormalizeValue(f model.FieldDefinition, value any) any {
	switch v := value.(type) {
	case string:
		if f.Type == model.FieldNumber || f.Type == model.FieldBoolean {
			if v == "" {
				return v
			}
			return ParseInput(f, v)
		}
		return v
	case float64, bool, nil:
		if f.Type == model.FieldSelect && v != nil {
			return toString(v)
		}
		return v
	default:
		return v
	}
}

func jsonText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return toString(v)
	}
}

func dateText(value any, layout string) string {
	if IsEmpty(value) {
		return ""
	}
	t, ok := ParseDate(value)
	if !ok {
		return ""
	}
	return t.UTC().Format(layout)
}

func placeholderFor(f model.FieldDefinition) string {
	if f.Placeholder != "" {
		return f.Placeholder
	}
	label := strings.ToLower(labelOf(f))
	switch f.Type {
	case model.FieldEmail:
		return "user@example.com"
	case model.FieldURL:
		return "https://example.com"
	case model.FieldTel:
		return "+1 (555) 123-4567"
	case model.FieldNumber:
		return "0"
	case model.FieldJSON:
		return `{"key": "value"}`
	case model.FieldPassword:
		return "Enter password"
	case model.FieldSelect:
		return "Select " + label
	case model.FieldDate, model.FieldDatetime, model.FieldBoolean:
		return ""
	default:
		return "Enter " + label
	}
}
