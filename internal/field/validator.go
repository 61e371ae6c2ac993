// Package field validates and renders values described by FieldDefinitions.
package field

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/admindash/model"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	telPattern   = regexp.MustCompile(`^[\d\s\-+()]+$`)
)

// Accepted layouts for date and datetime values, tried in order.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var (
	defaultPredicatesOnce sync.Once
	defaultPredicates     *Predicates
)

func sharedPredicates() *Predicates {
	defaultPredicatesOnce.Do(func() {
		p, err := NewPredicates()
		if err != nil {
			panic(err)
		}
		defaultPredicates = p
	})
	return defaultPredicates
}

// IsEmpty reports whether v counts as "no value": nil or the empty string.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// ValidateFieldType checks that value has the shape f.Type requires. It
// returns "" for an empty value; emptiness is the required check's concern.
func ValidateFieldType(f model.FieldDefinition, value any) string {
	if IsEmpty(value) {
		return ""
	}
	label := labelOf(f)

	switch f.Type {
	case model.FieldNumber:
		if _, ok := toFloat(value); !ok {
			return fmt.Sprintf("%s must be a valid number", label)
		}
	case model.FieldBoolean:
		if _, ok := toBool(value); !ok {
			return fmt.Sprintf("%s must be true or false", label)
		}
	case model.FieldDate, model.FieldDatetime:
		if _, ok := ParseDate(value); !ok {
			return fmt.Sprintf("%s must be a valid date", label)
		}
	case model.FieldJSON:
		if s, ok := value.(string); ok && !json.Valid([]byte(s)) {
			return fmt.Sprintf("%s must be valid JSON", label)
		}
	case model.FieldEmail:
		if !emailPattern.MatchString(toString(value)) {
			return fmt.Sprintf("%s must be a valid email address", label)
		}
	case model.FieldURL:
		u, err := url.Parse(toString(value))
		if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
			return fmt.Sprintf("%s must be a valid URL", label)
		}
	case model.FieldTel:
		if !telPattern.MatchString(toString(value)) {
			return fmt.Sprintf("%s must be a valid phone number", label)
		}
	case model.FieldSelect:
		if !f.HasOption(toString(value)) {
			return fmt.Sprintf("%s must be one of the available options", label)
		}
	case model.FieldText, model.FieldTextarea, model.FieldPassword, model.FieldFile:
	}
	return ""
}

// ValidateField runs the type check and then the declared rules, returning
// the first failure message or "".
func ValidateField(f model.FieldDefinition, value any, values map[string]any) string {
	return validateField(sharedPredicates(), nil, f, value, values)
}

func validateField(preds *Predicates, logger *zap.Logger, f model.FieldDefinition, value any, values map[string]any) string {
	if msg := ValidateFieldType(f, value); msg != "" {
		return msg
	}

	rules := effectiveRules(f)
	if rules == nil {
		return ""
	}
	label := labelOf(f)

	if IsEmpty(value) {
		if rules.Required {
			return fmt.Sprintf("%s is required", label)
		}
		return ""
	}

	if s, ok := value.(string); ok && f.Type != model.FieldNumber {
		n := len([]rune(s))
		if rules.MinLength != nil && n < *rules.MinLength {
			return fmt.Sprintf("%s must be at least %d characters", label, *rules.MinLength)
		}
		if rules.MaxLength != nil && n > *rules.MaxLength {
			return fmt.Sprintf("%s must be at most %d characters", label, *rules.MaxLength)
		}
		if rules.Pattern != "" {
			re, err := regexp.Compile(rules.Pattern)
			if err != nil || !re.MatchString(s) {
				if rules.Message != "" {
					return rules.Message
				}
				return fmt.Sprintf("%s format is invalid", label)
			}
		}
	}

	if num, ok := numericValue(f, value); ok {
		if rules.Min != nil && num < *rules.Min {
			return fmt.Sprintf("%s must be at least %s", label, formatNumber(*rules.Min))
		}
		if rules.Max != nil && num > *rules.Max {
			return fmt.Sprintf("%s must be at most %s", label, formatNumber(*rules.Max))
		}
		if rules.Step != nil && *rules.Step > 0 {
			base := 0.0
			if rules.Min != nil {
				base = *rules.Min
			}
			q := (num - base) / *rules.Step
			if math.Abs(q-math.Round(q)) > 1e-9 {
				return fmt.Sprintf("%s must be in steps of %s", label, formatNumber(*rules.Step))
			}
		}
	}

	if rules.Custom != "" {
		fallback := rules.Message
		if fallback == "" {
			fallback = fmt.Sprintf("%s is invalid", label)
		}
		msg, err := preds.Eval(rules.Custom, value, values, fallback)
		if err != nil {
			if logger != nil {
				logger.Warn("custom field rule failed",
					zap.String("field", f.Key),
					zap.Error(err),
				)
			}
			return fallback
		}
		if msg != "" {
			return msg
		}
	}

	if f.Type == model.FieldJSON {
		if s, ok := value.(string); ok && s != "" && !json.Valid([]byte(s)) {
			return fmt.Sprintf("%s must be valid JSON", label)
		}
	}

	return ""
}

// effectiveRules returns the declared rules with the field-level required
// flag merged in. A field without rules gets no rule checks at all, so its
// required flag alone does not make it required here.
func effectiveRules(f model.FieldDefinition) *model.ValidationRules {
	if f.Validation == nil {
		return nil
	}
	if f.Required && !f.Validation.Required {
		r := *f.Validation
		r.Required = true
		return &r
	}
	return f.Validation
}

// Validator validates whole forms and keeps the most recent per-field errors.
// It is safe for concurrent use.
type Validator struct {
	preds  *Predicates
	logger *zap.Logger

	mu     sync.RWMutex
	errors map[string]string
}

// NewValidator creates a Validator. A nil logger disables rule-failure logging.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		preds:  sharedPredicates(),
		logger: logger,
		errors: map[string]string{},
	}
}

// ValidateField validates one value without touching the error state.
func (v *Validator) ValidateField(f model.FieldDefinition, value any, values map[string]any) string {
	return validateField(v.preds, v.logger, f, value, values)
}

// ValidateForm validates every field against values, replaces the stored
// errors with the result, and reports whether the form is valid.
func (v *Validator) ValidateForm(fields []model.FieldDefinition, values map[string]any) bool {
	errs := make(map[string]string)
	for _, f := range fields {
		if msg := v.ValidateField(f, values[f.Key], values); msg != "" {
			errs[f.Key] = msg
		}
	}

	v.mu.Lock()
	v.errors = errs
	v.mu.Unlock()

	return len(errs) == 0
}

// Errors returns a copy of the current per-field errors.
func (v *Validator) Errors() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.errors))
	for k, msg := range v.errors {
		out[k] = msg
	}
	return out
}

// Error returns the current error for one field.
func (v *Validator) Error(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.errors[key]
}

// SetFieldError records or clears (msg == "") the error for one field.
func (v *Validator) SetFieldError(key, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if msg == "" {
		delete(v.errors, key)
		return
	}
	v.errors[key] = msg
}

// ClearErrors drops all recorded errors.
func (v *Validator) ClearErrors() {
	v.mu.Lock()
	v.errors = map[string]string{}
	v.mu.Unlock()
}

// ParseDate parses the date and datetime encodings the dashboard accepts.
func ParseDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func labelOf(f model.FieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

func numericValue(f model.FieldDefinition, value any) (float64, bool) {
	if _, isString := value.(string); isString && f.Type != model.FieldNumber {
		return 0, false
	}
	return toFloat(value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return formatNumber(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
