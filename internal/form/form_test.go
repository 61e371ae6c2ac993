package form

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/admindash/model"
)

type recordingPersister struct {
	created []map[string]any
	updated map[string]map[string]any
	err     error
}

func (p *recordingPersister) Create(_ context.Context, values map[string]any) (map[string]any, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.created = append(p.created, values)
	out := map[string]any{"id": "new-1"}
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

func (p *recordingPersister) Update(_ context.Context, id string, values map[string]any) (map[string]any, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.updated == nil {
		p.updated = map[string]map[string]any{}
	}
	p.updated[id] = values
	return values, nil
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func userFields() []model.FieldDefinition {
	return []model.FieldDefinition{
		{Key: "name", Label: "Name", Type: model.FieldText, Required: true, Form: &model.ViewConfig{Order: 2}},
		{Key: "email", Label: "Email", Type: model.FieldEmail, Required: true, Form: &model.ViewConfig{Order: 1}},
		{Key: "age", Label: "Age", Type: model.FieldNumber},
		{Key: "active", Label: "Active", Type: model.FieldBoolean, DefaultValue: true},
		{Key: "id", Label: "ID", Type: model.FieldText, ReadOnly: true, Form: &model.ViewConfig{Visible: boolPtr(false)}},
	}
}

func TestNew_appliesDefaults(t *testing.T) {
	f := New("users", userFields(), nil)
	if got := f.Values()["active"]; got != true {
		t.Errorf("active = %v, want default true", got)
	}
	if f.Mode() != ModeCreate {
		t.Errorf("Mode() = %q, want create", f.Mode())
	}
}

func TestSetValue_coercesThroughRenderer(t *testing.T) {
	f := New("users", userFields(), nil)
	if err := f.SetValue("age", "42"); err != nil {
		t.Fatal(err)
	}
	if got := f.Values()["age"]; got != 42.0 {
		t.Errorf("age = %#v, want 42.0", got)
	}
	if err := f.SetValue("missing", "x"); err == nil {
		t.Error("SetValue on unknown field should fail")
	}
}

func TestSubmit_blocksInvalidForm(t *testing.T) {
	p := &recordingPersister{}
	f := New("users", userFields(), nil, WithPersister(p))
	_ = f.SetValue("email", "nope")

	_, err := f.Submit(context.Background())
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrValidationError {
		t.Fatalf("Submit error = %v, want validation envelope", err)
	}
	if len(env.Details) != 2 {
		t.Errorf("details = %v, want name and email errors", env.Details)
	}
	if len(p.created) != 0 {
		t.Error("persister must not be called for an invalid form")
	}
	if f.Render().CanSubmit {
		t.Error("CanSubmit should be false while errors are present")
	}
}

func TestPromoteRequired(t *testing.T) {
	fields := userFields()
	f := New("users", fields, nil)
	if f.Validate() {
		t.Fatal("required fields without rules should still fail when empty")
	}
	if _, ok := f.Errors()["name"]; !ok {
		t.Errorf("errors = %v, want name required", f.Errors())
	}
	if fields[0].Validation != nil {
		t.Error("New must not modify the caller's field definitions")
	}

	withRules := model.FieldDefinition{Key: "code", Required: true, Validation: &model.ValidationRules{MinLength: intPtr(2)}}
	got := PromoteRequired(withRules)
	if !got.Validation.Required || got.Validation.MinLength == nil || withRules.Validation.Required {
		t.Errorf("PromoteRequired = %+v, input = %+v", got.Validation, withRules.Validation)
	}
	plain := model.FieldDefinition{Key: "note"}
	if PromoteRequired(plain).Validation != nil {
		t.Error("optional fields should stay without rules")
	}
}

func TestSubmit_createsValidForm(t *testing.T) {
	p := &recordingPersister{}
	f := New("users", userFields(), nil, WithPersister(p))
	_ = f.SetValue("name", "Ada")
	_ = f.SetValue("email", "ada@example.com")

	saved, err := f.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if saved["id"] != "new-1" || len(p.created) != 1 {
		t.Errorf("saved = %v, created = %v", saved, p.created)
	}
	if f.Dirty() {
		t.Error("form should be clean after a successful submit")
	}
}

func TestSubmit_editUsesUpdate(t *testing.T) {
	p := &recordingPersister{}
	initial := map[string]any{"name": "Ada", "email": "ada@example.com", "id": "u-7"}
	f := New("users", userFields(), initial, WithPersister(p), WithRecordID("u-7"))
	_ = f.SetValue("name", "Ada L.")

	if _, err := f.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p.updated["u-7"]["name"] != "Ada L." {
		t.Errorf("update values = %v", p.updated["u-7"])
	}
}

func TestSubmit_persisterError(t *testing.T) {
	p := &recordingPersister{err: model.NewBackendUnavailableError()}
	f := New("users", userFields(), map[string]any{"name": "A", "email": "a@b.co"}, WithPersister(p))
	if _, err := f.Submit(context.Background()); err == nil {
		t.Fatal("Submit should surface persister errors")
	}
}

func TestSubmit_noPersister(t *testing.T) {
	f := New("users", userFields(), map[string]any{"name": "A", "email": "a@b.co"})
	if _, err := f.Submit(context.Background()); !errors.Is(err, ErrNoPersister) {
		t.Errorf("Submit error = %v, want ErrNoPersister", err)
	}
}

func TestCancel_discardsEdits(t *testing.T) {
	f := New("users", userFields(), map[string]any{"name": "Ada"})
	_ = f.SetValue("name", "Grace")
	f.Validate()
	f.Cancel()
	if got := f.Values()["name"]; got != "Ada" {
		t.Errorf("name after Cancel = %v, want Ada", got)
	}
	if len(f.Errors()) != 0 {
		t.Errorf("errors after Cancel = %v", f.Errors())
	}
	if f.Dirty() {
		t.Error("form should not be dirty after Cancel")
	}
}

func TestRender_orderAndWrapping(t *testing.T) {
	f := New("users", userFields(), nil, WithTitle("New user"))
	f.Validate()
	desc := f.Render()

	if desc.Title != "New user" {
		t.Errorf("Title = %q", desc.Title)
	}
	keys := make([]string, 0, len(desc.Fields))
	for _, fd := range desc.Fields {
		keys = append(keys, fd.Key)
	}
	want := []string{"age", "active", "email", "name"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}

	for _, fd := range desc.Fields {
		switch fd.Key {
		case "email":
			if !fd.Required || fd.Error == "" || !fd.Control.Invalid {
				t.Errorf("email descriptor = %+v, want required with error", fd)
			}
		case "active":
			if fd.Label != "" || fd.Control.InlineLabel != "Active" {
				t.Errorf("boolean should bypass the wrapper label: %+v", fd)
			}
		}
	}
}

func TestTableColumns(t *testing.T) {
	fields := []model.FieldDefinition{
		{Key: "b", Label: "B", Type: model.FieldText, Table: &model.ViewConfig{Order: 2, Sortable: true}},
		{Key: "a", Label: "A", Type: model.FieldText, Table: &model.ViewConfig{Order: 1, Searchable: true}},
		{Key: "secret", Label: "Secret", Type: model.FieldPassword},
		{Key: "hidden", Label: "Hidden", Type: model.FieldText, Table: &model.ViewConfig{Visible: boolPtr(false)}},
	}
	cols := TableColumns(fields)
	if len(cols) != 2 || cols[0].Key != "a" || cols[1].Key != "b" {
		t.Fatalf("cols = %+v", cols)
	}
	if !cols[1].Sortable {
		t.Error("column b should be sortable")
	}
	if keys := SearchableKeys(fields); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("SearchableKeys = %v", keys)
	}
}
