package field

import (
	"testing"

	"github.com/pitabwire/admindash/model"
)

func TestRender_textVariants(t *testing.T) {
	for _, ft := range []model.FieldType{model.FieldText, model.FieldEmail, model.FieldPassword, model.FieldURL, model.FieldTel} {
		c := Render(model.FieldDefinition{Key: "k", Label: "K", Type: ft}, "v", RenderOptions{})
		if c.Widget != model.WidgetInput || c.InputType != string(ft) {
			t.Errorf("%s: widget=%q inputType=%q", ft, c.Widget, c.InputType)
		}
		if c.Value != "v" || !c.Wrapped {
			t.Errorf("%s: value=%q wrapped=%v", ft, c.Value, c.Wrapped)
		}
	}
}

func TestRender_placeholders(t *testing.T) {
	tests := []struct {
		field model.FieldDefinition
		want  string
	}{
		{model.FieldDefinition{Key: "site", Label: "Site", Type: model.FieldURL}, "https://example.com"},
		{model.FieldDefinition{Key: "mail", Label: "Mail", Type: model.FieldEmail}, "user@example.com"},
		{model.FieldDefinition{Key: "name", Label: "Full Name", Type: model.FieldText}, "Enter full name"},
		{model.FieldDefinition{Key: "site", Label: "Site", Type: model.FieldURL, Placeholder: "your site"}, "your site"},
	}
	for _, tt := range tests {
		if got := Render(tt.field, nil, RenderOptions{}).Placeholder; got != tt.want {
			t.Errorf("%s placeholder = %q, want %q", tt.field.Type, got, tt.want)
		}
	}
}

func TestRender_disabledAndError(t *testing.T) {
	f := model.FieldDefinition{Key: "k", Label: "K", Type: model.FieldText}
	if c := Render(f, "", RenderOptions{Loading: true}); !c.Disabled {
		t.Error("loading should disable the control")
	}
	f.ReadOnly = true
	if c := Render(f, "", RenderOptions{}); !c.Disabled {
		t.Error("readonly should disable the control")
	}
	c := Render(model.FieldDefinition{Key: "k", Type: model.FieldText}, "", RenderOptions{Error: "bad"})
	if !c.Invalid || c.ClassName != ErrorClass {
		t.Errorf("invalid=%v class=%q, want error highlight", c.Invalid, c.ClassName)
	}
}

func TestRender_boolean(t *testing.T) {
	c := Render(model.FieldDefinition{Key: "active", Label: "Active", Type: model.FieldBoolean}, true, RenderOptions{})
	if c.Widget != model.WidgetCheckbox || !c.Checked {
		t.Errorf("widget=%q checked=%v", c.Widget, c.Checked)
	}
	if c.Wrapped || c.InlineLabel != "Active" {
		t.Errorf("boolean should carry its own label: wrapped=%v inline=%q", c.Wrapped, c.InlineLabel)
	}
}

func TestRender_select(t *testing.T) {
	c := Render(statusField(), "active", RenderOptions{})
	if c.Widget != model.WidgetSelect || len(c.Options) != 2 || c.Value != "active" {
		t.Errorf("select control = %+v", c)
	}
}

func TestRender_jsonPrettyPrints(t *testing.T) {
	f := model.FieldDefinition{Key: "meta", Type: model.FieldJSON}
	c := Render(f, map[string]any{"a": 1.0}, RenderOptions{})
	want := "{\n  \"a\": 1\n}"
	if c.Widget != model.WidgetTextarea || c.Value != want {
		t.Errorf("json value = %q, want %q", c.Value, want)
	}
	if c := Render(f, `{"raw":true}`, RenderOptions{}); c.Value != `{"raw":true}` {
		t.Errorf("string json should pass through, got %q", c.Value)
	}
}

func TestRender_dates(t *testing.T) {
	d := Render(model.FieldDefinition{Key: "d", Type: model.FieldDate}, "2024-03-01T10:30:00Z", RenderOptions{})
	if d.InputType != "date" || d.Value != "2024-03-01" {
		t.Errorf("date control = %q %q", d.InputType, d.Value)
	}
	dt := Render(model.FieldDefinition{Key: "d", Type: model.FieldDatetime}, "2024-03-01T10:30:45.123Z", RenderOptions{})
	if dt.InputType != "datetime-local" || dt.Value != "2024-03-01T10:30" {
		t.Errorf("datetime control = %q %q", dt.InputType, dt.Value)
	}
	if e := Render(model.FieldDefinition{Key: "d", Type: model.FieldDate}, nil, RenderOptions{}); e.Value != "" {
		t.Errorf("empty date = %q", e.Value)
	}
}

func TestRender_unknownTypeFallsBackToText(t *testing.T) {
	c := Render(model.FieldDefinition{Key: "x", Type: model.FieldType("color")}, "red", RenderOptions{})
	if c.Widget != model.WidgetInput || c.InputType != "text" || c.Value != "red" {
		t.Errorf("fallback control = %+v", c)
	}
}

func TestParseInput(t *testing.T) {
	num := model.FieldDefinition{Type: model.FieldNumber}
	if got := ParseInput(num, "12.5"); got != 12.5 {
		t.Errorf("ParseInput(number, 12.5) = %v", got)
	}
	if got := ParseInput(num, "12a"); got != "12a" {
		t.Errorf("unparsable number should fall back to raw string, got %v", got)
	}
	if got := ParseInput(model.FieldDefinition{Type: model.FieldBoolean}, "on"); got != true {
		t.Errorf("ParseInput(boolean, on) = %v", got)
	}
	if got := ParseInput(statusField(), "active"); got != "active" {
		t.Errorf("ParseInput(select) = %v", got)
	}
}

func TestNormalizeValue_selectCoercesToString(t *testing.T) {
	f := model.FieldDefinition{Type: model.FieldSelect}
	if got := NormalizeValue(f, 3.0); got != "3" {
		t.Errorf("NormalizeValue(select, 3) = %#v, want \"3\"", got)
	}
}
