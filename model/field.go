package model

// FieldType is the closed set of attribute kinds a FieldDefinition can declare.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldSelect   FieldType = "select"
	FieldTextarea FieldType = "textarea"
	FieldEmail    FieldType = "email"
	FieldPassword FieldType = "password"
	FieldURL      FieldType = "url"
	FieldTel      FieldType = "tel"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldFile     FieldType = "file"
	FieldJSON     FieldType = "json"
)

// FieldTypes lists every FieldType in declaration order.
var FieldTypes = []FieldType{
	FieldText, FieldNumber, FieldBoolean, FieldSelect, FieldTextarea,
	FieldEmail, FieldPassword, FieldURL, FieldTel, FieldDate,
	FieldDatetime, FieldFile, FieldJSON,
}

// Valid reports whether t is one of the declared field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldBoolean, FieldSelect, FieldTextarea,
		FieldEmail, FieldPassword, FieldURL, FieldTel, FieldDate,
		FieldDatetime, FieldFile, FieldJSON:
		return true
	}
	return false
}

// FieldDefinition describes one editable or displayable attribute of a record.
type FieldDefinition struct {
	Key          string           `yaml:"key"           json:"key"`
	Label        string           `yaml:"label"         json:"label"`
	Type         FieldType        `yaml:"type"          json:"type"`
	Required     bool             `yaml:"required"      json:"required,omitempty"`
	ReadOnly     bool             `yaml:"readonly"      json:"readonly,omitempty"`
	DefaultValue any              `yaml:"default_value" json:"defaultValue,omitempty"`
	Placeholder  string           `yaml:"placeholder"   json:"placeholder,omitempty"`
	Description  string           `yaml:"description"   json:"description,omitempty"`
	Validation   *ValidationRules `yaml:"validation"    json:"validation,omitempty"`
	Options      []FieldOption    `yaml:"options"       json:"options,omitempty"`
	Table        *ViewConfig      `yaml:"table"         json:"table,omitempty"`
	Form         *ViewConfig      `yaml:"form"          json:"form,omitempty"`
	Detail       *ViewConfig      `yaml:"detail"        json:"detail,omitempty"`
}

// ValidationRules holds the optional constraints checked by the field validator.
// Custom is a CEL expression evaluated with `value` and `values` bound; it
// yields either a bool (false fails) or a string (non-empty is the message).
type ValidationRules struct {
	Required  bool     `yaml:"required"   json:"required,omitempty"`
	MinLength *int     `yaml:"min_length" json:"minLength,omitempty"`
	MaxLength *int     `yaml:"max_length" json:"maxLength,omitempty"`
	Min       *float64 `yaml:"min"        json:"min,omitempty"`
	Max       *float64 `yaml:"max"        json:"max,omitempty"`
	Step      *float64 `yaml:"step"       json:"step,omitempty"`
	Pattern   string   `yaml:"pattern"    json:"pattern,omitempty"`
	Custom    string   `yaml:"custom"     json:"custom,omitempty"`
	Message   string   `yaml:"message"    json:"message,omitempty"`
}

// FieldOption is one entry of a select field's option list.
type FieldOption struct {
	Value    string `yaml:"value"    json:"value"`
	Label    string `yaml:"label"    json:"label"`
	Disabled bool   `yaml:"disabled" json:"disabled,omitempty"`
}

// ViewConfig controls how a field appears in a table, form, or detail view.
type ViewConfig struct {
	Visible    *bool  `yaml:"visible"    json:"visible,omitempty"`
	Sortable   bool   `yaml:"sortable"   json:"sortable,omitempty"`
	Searchable bool   `yaml:"searchable" json:"searchable,omitempty"`
	Filterable bool   `yaml:"filterable" json:"filterable,omitempty"`
	Width      string `yaml:"width"      json:"width,omitempty"`
	Order      int    `yaml:"order"      json:"order,omitempty"`
}

// IsVisible reports whether the view shows the field. A nil config or an
// unset Visible flag means visible.
func (v *ViewConfig) IsVisible() bool {
	if v == nil || v.Visible == nil {
		return true
	}
	return *v.Visible
}

// HasOption reports whether value matches one of the field's option values.
func (f FieldDefinition) HasOption(value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}
