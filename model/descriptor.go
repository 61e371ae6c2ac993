package model

// Widget kinds a Control can render as.
const (
	WidgetInput    = "input"
	WidgetTextarea = "textarea"
	WidgetCheckbox = "checkbox"
	WidgetSelect   = "select"
)

// Control is the server-driven description of one rendered input control.
type Control struct {
	Key         string        `json:"key"`
	Widget      string        `json:"widget"`
	InputType   string        `json:"input_type,omitempty"`
	Value       string        `json:"value"`
	Checked     bool          `json:"checked,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	InlineLabel string        `json:"inline_label,omitempty"`
	Options     []FieldOption `json:"options,omitempty"`
	Rows        int           `json:"rows,omitempty"`
	Disabled    bool          `json:"disabled"`
	Invalid     bool          `json:"invalid"`
	ClassName   string        `json:"class_name,omitempty"`
	// Wrapped is false when the control carries its own label and must not
	// be placed inside the generic label wrapper.
	Wrapped bool `json:"wrapped"`
}

// FormFieldDescriptor wraps a Control with its label, required marker,
// description, and current error.
type FormFieldDescriptor struct {
	Key         string  `json:"key"`
	Label       string  `json:"label,omitempty"`
	Required    bool    `json:"required"`
	Description string  `json:"description,omitempty"`
	Error       string  `json:"error,omitempty"`
	Control     Control `json:"control"`
}

// FormDescriptor is a fully rendered create or edit form.
type FormDescriptor struct {
	ServiceCode    string                `json:"service_code"`
	Mode           string                `json:"mode"`
	Title          string                `json:"title"`
	Fields         []FormFieldDescriptor `json:"fields"`
	SubmitEndpoint string                `json:"submit_endpoint,omitempty"`
	SubmitMethod   string                `json:"submit_method,omitempty"`
	CanSubmit      bool                  `json:"can_submit"`
}

// ColumnDescriptor is one visible table column derived from a field.
type ColumnDescriptor struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	Sortable   bool   `json:"sortable"`
	Searchable bool   `json:"searchable"`
	Filterable bool   `json:"filterable"`
	Width      string `json:"width,omitempty"`
	Order      int    `json:"order"`
}

// MenuItem is one entry of the dynamic navigation menu.
type MenuItem struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Path     string `json:"path"`
	Icon     string `json:"icon,omitempty"`
	Category string `json:"category,omitempty"`
	Order    int    `json:"order"`
	Enabled  bool   `json:"enabled"`
}

// Page is the paginated list envelope returned by list queries.
type Page struct {
	Content       []any `json:"content"`
	TotalElements int   `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
}
