package field

import (
	"strings"
	"testing"

	"github.com/pitabwire/admindash/model"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func statusField() model.FieldDefinition {
	return model.FieldDefinition{
		Key:   "status",
		Label: "Status",
		Type:  model.FieldSelect,
		Options: []model.FieldOption{
			{Value: "active", Label: "Active"},
			{Value: "inactive", Label: "Inactive"},
		},
	}
}

func TestValidateFieldType_select(t *testing.T) {
	f := statusField()
	if msg := ValidateFieldType(f, "active"); msg != "" {
		t.Errorf("ValidateFieldType(active) = %q, want empty", msg)
	}
	if msg := ValidateFieldType(f, "archived"); msg == "" {
		t.Error("ValidateFieldType(archived) should fail for value outside options")
	}
}

func TestValidateFieldType_emptyDefersToRequired(t *testing.T) {
	for _, ft := range model.FieldTypes {
		f := model.FieldDefinition{Key: "x", Label: "X", Type: ft}
		if msg := ValidateFieldType(f, nil); msg != "" {
			t.Errorf("%s: ValidateFieldType(nil) = %q, want empty", ft, msg)
		}
		if msg := ValidateFieldType(f, ""); msg != "" {
			t.Errorf("%s: ValidateFieldType(\"\") = %q, want empty", ft, msg)
		}
	}
}

func TestValidateFieldType_shapes(t *testing.T) {
	tests := []struct {
		name    string
		typ     model.FieldType
		value   any
		wantErr bool
	}{
		{"number ok", model.FieldNumber, 42.0, false},
		{"number string ok", model.FieldNumber, "3.5", false},
		{"number bad", model.FieldNumber, "abc", true},
		{"boolean ok", model.FieldBoolean, true, false},
		{"boolean string ok", model.FieldBoolean, "false", false},
		{"boolean bad", model.FieldBoolean, "maybe", true},
		{"date ok", model.FieldDate, "2024-03-01", false},
		{"datetime ok", model.FieldDatetime, "2024-03-01T10:30:00Z", false},
		{"date bad", model.FieldDate, "yesterday", true},
		{"url ok", model.FieldURL, "https://example.com/a", false},
		{"url bad", model.FieldURL, "example", true},
		{"tel ok", model.FieldTel, "+1 (555) 123-4567", false},
		{"tel bad", model.FieldTel, "call me", true},
		{"json object ok", model.FieldJSON, map[string]any{"a": 1.0}, false},
		{"text anything", model.FieldText, "whatever", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := model.FieldDefinition{Key: "f", Label: "Field", Type: tt.typ}
			msg := ValidateFieldType(f, tt.value)
			if (msg != "") != tt.wantErr {
				t.Errorf("ValidateFieldType(%v) = %q, wantErr %v", tt.value, msg, tt.wantErr)
			}
		})
	}
}

func TestValidateField_required(t *testing.T) {
	f := model.FieldDefinition{
		Key: "name", Label: "Name", Type: model.FieldText,
		Validation: &model.ValidationRules{Required: true},
	}
	for _, v := range []any{nil, ""} {
		msg := ValidateField(f, v, nil)
		if msg != "Name is required" {
			t.Errorf("ValidateField(%v) = %q, want required error", v, msg)
		}
	}
	if msg := ValidateField(f, "Ada", nil); msg != "" {
		t.Errorf("ValidateField(Ada) = %q, want empty", msg)
	}
}

func TestValidateField_requiredFlagNeedsRules(t *testing.T) {
	f := model.FieldDefinition{Key: "nick", Label: "Nick", Type: model.FieldText, Required: true}
	if msg := ValidateField(f, "", nil); msg != "" {
		t.Errorf("ValidateField(\"\") without rules = %q, want empty", msg)
	}

	f.Validation = &model.ValidationRules{MaxLength: intPtr(10)}
	if msg := ValidateField(f, "", nil); msg != "Nick is required" {
		t.Errorf("ValidateField(\"\") with rules = %q, want required error", msg)
	}
}

func TestValidateField_email(t *testing.T) {
	f := model.FieldDefinition{Key: "email", Label: "Email", Type: model.FieldEmail}
	if msg := ValidateField(f, "not-an-email", nil); msg == "" {
		t.Error("ValidateField(not-an-email) should fail")
	}
	if msg := ValidateField(f, "user@example.com", nil); msg != "" {
		t.Errorf("ValidateField(user@example.com) = %q, want empty", msg)
	}
}

func TestValidateField_json(t *testing.T) {
	f := model.FieldDefinition{Key: "meta", Label: "Metadata", Type: model.FieldJSON}
	if msg := ValidateField(f, "{invalid", nil); msg == "" {
		t.Error("ValidateField({invalid) should fail")
	}
	if msg := ValidateField(f, `{"a":1}`, nil); msg != "" {
		t.Errorf(`ValidateField({"a":1}) = %q, want empty`, msg)
	}
}

func TestValidateField_lengthAndPattern(t *testing.T) {
	f := model.FieldDefinition{
		Key: "sku", Label: "SKU", Type: model.FieldText,
		Validation: &model.ValidationRules{
			MinLength: intPtr(3),
			MaxLength: intPtr(6),
			Pattern:   `^[A-Z0-9]+$`,
		},
	}
	tests := []struct {
		value string
		want  string
	}{
		{"AB", "SKU must be at least 3 characters"},
		{"ABCDEFG", "SKU must be at most 6 characters"},
		{"abc", "SKU format is invalid"},
		{"ABC1", ""},
	}
	for _, tt := range tests {
		if got := ValidateField(f, tt.value, nil); got != tt.want {
			t.Errorf("ValidateField(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestValidateField_patternCustomMessage(t *testing.T) {
	f := model.FieldDefinition{
		Key: "code", Label: "Code", Type: model.FieldText,
		Validation: &model.ValidationRules{Pattern: `^\d+$`, Message: "digits only"},
	}
	if got := ValidateField(f, "x1", nil); got != "digits only" {
		t.Errorf("ValidateField = %q, want custom message", got)
	}
}

func TestValidateField_range(t *testing.T) {
	f := model.FieldDefinition{
		Key: "price", Label: "Price", Type: model.FieldNumber,
		Validation: &model.ValidationRules{Min: floatPtr(0), Max: floatPtr(100), Step: floatPtr(0.5)},
	}
	tests := []struct {
		value any
		want  string
	}{
		{-1.0, "Price must be at least 0"},
		{101.0, "Price must be at most 100"},
		{"250", "Price must be at most 100"},
		{10.25, "Price must be in steps of 0.5"},
		{10.5, ""},
	}
	for _, tt := range tests {
		if got := ValidateField(f, tt.value, nil); got != tt.want {
			t.Errorf("ValidateField(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestValidateField_typeCheckShortCircuits(t *testing.T) {
	f := model.FieldDefinition{
		Key: "age", Label: "Age", Type: model.FieldNumber,
		Validation: &model.ValidationRules{Min: floatPtr(18)},
	}
	got := ValidateField(f, "abc", nil)
	if got != "Age must be a valid number" {
		t.Errorf("ValidateField = %q, want type error first", got)
	}
}

func TestValidateField_customPredicate(t *testing.T) {
	f := model.FieldDefinition{
		Key: "confirm", Label: "Confirm password", Type: model.FieldPassword,
		Validation: &model.ValidationRules{
			Custom: `value == values.password ? "" : "Passwords do not match"`,
		},
	}
	values := map[string]any{"password": "s3cret", "confirm": "other"}
	if got := ValidateField(f, "other", values); got != "Passwords do not match" {
		t.Errorf("ValidateField(mismatch) = %q", got)
	}
	values["confirm"] = "s3cret"
	if got := ValidateField(f, "s3cret", values); got != "" {
		t.Errorf("ValidateField(match) = %q, want empty", got)
	}
}

func TestValidateField_customBoolPredicate(t *testing.T) {
	f := model.FieldDefinition{
		Key: "end", Label: "End", Type: model.FieldNumber,
		Validation: &model.ValidationRules{Custom: `value > values.start`},
	}
	got := ValidateField(f, 1.0, map[string]any{"start": 5.0})
	if got != "End is invalid" {
		t.Errorf("ValidateField = %q, want fallback message", got)
	}
	if got := ValidateField(f, 9.0, map[string]any{"start": 5.0}); got != "" {
		t.Errorf("ValidateField = %q, want empty", got)
	}
}

func TestValidateField_brokenPredicateFails(t *testing.T) {
	f := model.FieldDefinition{
		Key: "x", Label: "X", Type: model.FieldText,
		Validation: &model.ValidationRules{Custom: `value +`},
	}
	if got := ValidateField(f, "a", nil); got == "" {
		t.Error("broken predicate should surface as a validation error")
	}
}

func TestValidator_ValidateForm(t *testing.T) {
	fields := []model.FieldDefinition{
		{Key: "name", Label: "Name", Type: model.FieldText, Validation: &model.ValidationRules{Required: true}},
		{Key: "email", Label: "Email", Type: model.FieldEmail},
		statusField(),
	}
	v := NewValidator(nil)

	ok := v.ValidateForm(fields, map[string]any{"email": "bad", "status": "active"})
	if ok {
		t.Fatal("ValidateForm should fail")
	}
	errs := v.Errors()
	if len(errs) != 2 {
		t.Fatalf("Errors() = %v, want 2 entries", errs)
	}
	if !strings.Contains(errs["email"], "Email") {
		t.Errorf("email error = %q, want label interpolated", errs["email"])
	}

	ok = v.ValidateForm(fields, map[string]any{"name": "Ada", "email": "ada@example.com", "status": "inactive"})
	if !ok {
		t.Fatalf("ValidateForm should pass, errors = %v", v.Errors())
	}
	if len(v.Errors()) != 0 {
		t.Errorf("errors not replaced wholesale: %v", v.Errors())
	}
}

func TestValidator_SetFieldErrorAndClear(t *testing.T) {
	v := NewValidator(nil)
	v.SetFieldError("a", "bad")
	if v.Error("a") != "bad" {
		t.Errorf("Error(a) = %q", v.Error("a"))
	}
	v.SetFieldError("a", "")
	if v.Error("a") != "" {
		t.Error("SetFieldError with empty message should clear")
	}
	v.SetFieldError("b", "bad")
	v.ClearErrors()
	if len(v.Errors()) != 0 {
		t.Error("ClearErrors should drop everything")
	}
}
