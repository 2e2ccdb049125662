package serrors

import "fmt"

// BaseError is a structured error carrying a stable machine-readable code, a
// developer-facing message and an optional locale key for user-facing rendering.
type BaseError struct {
	Code      string
	Message   string
	LocaleKey string
	Details   map[string]any
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code, so a detail-carrying copy still matches its
// sentinel under errors.Is.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	return ok && t.Code == e.Code
}

// WithDetail returns the error with an extra detail attached. Details are meant
// for the caller rendering a precise message (current status, remaining votes),
// never for control flow.
func (e *BaseError) WithDetail(key string, value any) *BaseError {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func (e *BaseError) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func NewErrorf(code, localeKey, format string, args ...any) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		LocaleKey: localeKey,
	}
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	e := NewErrorf("FIELD_REQUIRED", localeKey, "field %q is required", field)
	return e.WithDetail("field", field)
}

// ValidationErrors maps field names to their validation failures.
type ValidationErrors map[string]*BaseError
