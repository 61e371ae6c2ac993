// Package form composes field rendering and validation into create and edit
// forms for a service's records.
package form

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/field"
	"github.com/pitabwire/admindash/model"
)

// Form modes.
const (
	ModeCreate = "create"
	ModeEdit   = "edit"
)

// ErrNoPersister is returned by Submit when the form has nowhere to send values.
var ErrNoPersister = errors.New("form: no persister configured")

// Persister stores a validated record. It is the create/update mutation
// collaborator of a form.
type Persister interface {
	Create(ctx context.Context, values map[string]any) (map[string]any, error)
	Update(ctx context.Context, id string, values map[string]any) (map[string]any, error)
}

// Option configures a Form.
type Option func(*Form)

// WithRecordID puts the form in edit mode for the given record.
func WithRecordID(id string) Option {
	return func(f *Form) { f.recordID = id }
}

// WithPersister sets the collaborator that receives submitted values.
func WithPersister(p Persister) Option {
	return func(f *Form) { f.persister = p }
}

// WithLogger sets the form's logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Form) { f.logger = l }
}

// WithTitle overrides the generated form title.
func WithTitle(title string) Option {
	return func(f *Form) { f.title = title }
}

// WithSubmitTarget records where the UI should post the form.
func WithSubmitTarget(method, endpoint string) Option {
	return func(f *Form) {
		f.submitMethod = method
		f.submitEndpoint = endpoint
	}
}

// Form tracks the editable state of one record against a field set. It is
// safe for concurrent use.
type Form struct {
	code           string
	fields         []model.FieldDefinition
	recordID       string
	title          string
	submitMethod   string
	submitEndpoint string
	persister      Persister
	logger         *zap.Logger
	validator      *field.Validator

	mu         sync.Mutex
	initial    map[string]any
	values     map[string]any
	submitting bool
}

// New creates a form for the given service code and fields, seeded with
// initial values. Fields missing from initial take their default value.
func New(code string, fields []model.FieldDefinition, initial map[string]any, opts ...Option) *Form {
	promoted := make([]model.FieldDefinition, len(fields))
	for i, fd := range fields {
		promoted[i] = PromoteRequired(fd)
	}
	f := &Form{
		code:   code,
		fields: promoted,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.validator = field.NewValidator(f.logger)

	seed := make(map[string]any, len(fields))
	for _, fd := range fields {
		if v, ok := initial[fd.Key]; ok {
			seed[fd.Key] = field.NormalizeValue(fd, v)
		} else if fd.DefaultValue != nil {
			seed[fd.Key] = fd.DefaultValue
		}
	}
	f.initial = seed
	f.values = cloneValues(seed)
	return f
}

// PromoteRequired carries the field's required flag into its validation
// rules. The form marks such fields as required, so it checks them as
// required even when they declare no rules.
func PromoteRequired(fd model.FieldDefinition) model.FieldDefinition {
	if !fd.Required || (fd.Validation != nil && fd.Validation.Required) {
		return fd
	}
	var rules model.ValidationRules
	if fd.Validation != nil {
		rules = *fd.Validation
	}
	rules.Required = true
	fd.Validation = &rules
	return fd
}

// Mode reports whether the form creates or edits a record.
func (f *Form) Mode() string {
	if f.recordID != "" {
		return ModeEdit
	}
	return ModeCreate
}

// SetValue applies a raw input from the field's control. The stored value is
// coerced by the field renderer and the field's previous error is cleared.
func (f *Form) SetValue(key, raw string) error {
	fd, ok := f.lookup(key)
	if !ok {
		return fmt.Errorf("form: unknown field %q", key)
	}
	f.mu.Lock()
	f.values[key] = field.ParseInput(fd, raw)
	f.mu.Unlock()
	f.validator.SetFieldError(key, "")
	return nil
}

// SetValues applies already-decoded values, such as a JSON request body.
// Unknown keys are ignored.
func (f *Form) SetValues(values map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range f.fields {
		if v, ok := values[fd.Key]; ok {
			f.values[fd.Key] = field.NormalizeValue(fd, v)
		}
	}
}

// Values returns a copy of the current values.
func (f *Form) Values() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneValues(f.values)
}

// Errors returns the per-field errors from the last validation.
func (f *Form) Errors() map[string]string {
	return f.validator.Errors()
}

// Validate checks all fields and records their errors.
func (f *Form) Validate() bool {
	return f.validator.ValidateForm(f.fields, f.Values())
}

// Submit validates the form and, when every field passes, hands the values
// to the persister. A failing form returns a VALIDATION_ERROR envelope and
// the persister is not called.
func (f *Form) Submit(ctx context.Context) (map[string]any, error) {
	values := f.Values()
	if !f.validator.ValidateForm(f.fields, values) {
		return nil, model.NewValidationError(FieldErrors(f.validator.Errors()))
	}
	if f.persister == nil {
		return nil, ErrNoPersister
	}

	f.mu.Lock()
	f.submitting = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	var (
		saved map[string]any
		err   error
	)
	if f.recordID != "" {
		saved, err = f.persister.Update(ctx, f.recordID, values)
	} else {
		saved, err = f.persister.Create(ctx, values)
	}
	if err != nil {
		f.logger.Warn("form submit failed",
			zap.String("service", f.code),
			zap.String("mode", f.Mode()),
			zap.Error(err),
		)
		return nil, err
	}

	f.mu.Lock()
	f.initial = cloneValues(values)
	f.mu.Unlock()
	f.logger.Info("form submitted", zap.String("service", f.code), zap.String("mode", f.Mode()))
	return saved, nil
}

// Cancel discards uncommitted edits and clears errors.
func (f *Form) Cancel() {
	f.mu.Lock()
	f.values = cloneValues(f.initial)
	f.mu.Unlock()
	f.validator.ClearErrors()
}

// Dirty reports whether any value differs from the last committed state.
func (f *Form) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) != len(f.initial) {
		return true
	}
	for k, v := range f.values {
		if fmt.Sprint(f.initial[k]) != fmt.Sprint(v) {
			return true
		}
	}
	return false
}

// Render produces the form descriptor: one wrapped control per visible field
// in form order, each carrying its current error.
func (f *Form) Render() model.FormDescriptor {
	f.mu.Lock()
	values := cloneValues(f.values)
	loading := f.submitting
	f.mu.Unlock()
	errs := f.validator.Errors()

	desc := model.FormDescriptor{
		ServiceCode:    f.code,
		Mode:           f.Mode(),
		Title:          f.displayTitle(),
		SubmitMethod:   f.submitMethod,
		SubmitEndpoint: f.submitEndpoint,
		CanSubmit:      !loading && len(errs) == 0,
	}

	for _, fd := range FormFields(f.fields) {
		msg := errs[fd.Key]
		ctrl := field.Render(fd, values[fd.Key], field.RenderOptions{Loading: loading, Error: msg})
		label := fd.Label
		if !ctrl.Wrapped {
			label = ""
		}
		desc.Fields = append(desc.Fields, model.FormFieldDescriptor{
			Key:         fd.Key,
			Label:       label,
			Required:    fd.Required || (fd.Validation != nil && fd.Validation.Required),
			Description: fd.Description,
			Error:       msg,
			Control:     ctrl,
		})
	}
	return desc
}

func (f *Form) displayTitle() string {
	if f.title != "" {
		return f.title
	}
	if f.recordID != "" {
		return "Edit " + f.code
	}
	return "Create " + f.code
}

func (f *Form) lookup(key string) (model.FieldDefinition, bool) {
	for _, fd := range f.fields {
		if fd.Key == key {
			return fd, true
		}
	}
	return model.FieldDefinition{}, false
}

// FormFields returns the fields visible in forms, sorted by their form order.
func FormFields(fields []model.FieldDefinition) []model.FieldDefinition {
	out := make([]model.FieldDefinition, 0, len(fields))
	for _, fd := range fields {
		if fd.Form.IsVisible() {
			out = append(out, fd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return viewOrder(out[i].Form) < viewOrder(out[j].Form)
	})
	return out
}

// FieldErrors converts a key→message map into sorted field error details.
func FieldErrors(errs map[string]string) []model.FieldError {
	out := make([]model.FieldError, 0, len(errs))
	for k, msg := range errs {
		out = append(out, model.FieldError{Field: k, Code: "INVALID", Message: msg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func viewOrder(v *model.ViewConfig) int {
	if v == nil {
		return 0
	}
	return v.Order
}

func cloneValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
