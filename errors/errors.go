package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates which stage of a bridge call produced the error
type Phase string

const (
	PhaseResolve  Phase = "resolve"  // type dispatch
	PhaseEncode   Phase = "encode"   // managed value to wire bytes
	PhaseDecode   Phase = "decode"   // wire bytes to managed value
	PhaseInvoke   Phase = "invoke"   // native call
	PhaseCallback Phase = "callback" // native to managed callback
	PhaseHandle   Phase = "handle"   // opaque handle lifecycle
	PhaseConfig   Phase = "config"   // configuration
	PhaseLoad     Phase = "load"     // peer loading
	PhaseParse    Phase = "parse"    // schema and argument parsing
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindOverflow       Kind = "overflow"
	KindNilPointer     Kind = "nil_pointer"
	KindInvalidVariant Kind = "invalid_variant"
	KindInvalidTag     Kind = "invalid_tag"
	KindDepthExceeded  Kind = "depth_exceeded"
	KindLengthMismatch Kind = "length_mismatch"
	KindKeyOrder       Kind = "key_order"
	KindNoCodec        Kind = "no_codec"
	KindNativeFailure  Kind = "native_failure"
	KindCallbackFailed Kind = "callback_failed"
	KindReleased       Kind = "released"
	KindNotFound       Kind = "not_found"
	KindInvalidInput   Kind = "invalid_input"
	KindMissingExport  Kind = "missing_export"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	hasType := e.GoType != "" || e.WireType != ""
	if hasType {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WireType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wire type ")
			b.WriteString(e.WireType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("wire type ")
			b.WriteString(e.WireType)
		}
	}

	if e.Detail != "" {
		if hasType {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error on phase and kind.
// An empty phase or kind in the target acts as a wildcard.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Phase != "" || t.Kind != ""
}

// WithPath returns a copy of e with prefix prepended to its path.
func (e *Error) WithPath(prefix ...string) *Error {
	c := *e
	c.Path = append(append(make([]string, 0, len(prefix)+len(e.Path)), prefix...), e.Path...)
	return &c
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the wire type name
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wire format errors

// ShortBuffer reports input that ended before a value was complete
func ShortBuffer(path []string, need, have int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("need %d bytes, have %d", need, have),
		Value:  need,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidVariant creates an error for a variant index outside the declared range
func InvalidVariant(path []string, index, count uint32) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("variant index %d out of range (%d variants)", index, count),
		Value:  index,
	}
}

// InvalidTag creates an error for a presence or boolean byte other than 0 or 1
func InvalidTag(path []string, what string, tag byte) *Error {
	return &Error{
		Phase:    PhaseDecode,
		Kind:     KindInvalidTag,
		Path:     path,
		WireType: what,
		Detail:   fmt.Sprintf("invalid tag byte 0x%02x", tag),
		Value:    tag,
	}
}

// DepthExceeded reports an exhausted container depth budget
func DepthExceeded(phase Phase, limit int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDepthExceeded,
		Detail: fmt.Sprintf("exceeded maximum container depth %d", limit),
		Value:  limit,
	}
}

// LengthMismatch reports a fixed-size array whose runtime length differs from its declared size
func LengthMismatch(phase Phase, path []string, got, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLengthMismatch,
		Path:   path,
		Detail: fmt.Sprintf("invalid length for fixed-size array: got %d, want %d", got, want),
		Value:  got,
	}
}

// KeyOrder reports map keys that are not in strictly increasing byte order
func KeyOrder(path []string, index int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindKeyOrder,
		Path:   path,
		Detail: fmt.Sprintf("map key %d is not strictly greater than its predecessor", index),
		Value:  index,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		WireType: target,
		Detail:   fmt.Sprintf("value %v overflows %s", value, target),
		Value:    value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Dispatch errors

// NoCodec reports a type the dispatch cache cannot resolve
func NoCodec(path []string, goType string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNoCodec,
		Path:   path,
		GoType: goType,
		Detail: "no codec registered and none derivable",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		GoType:   goType,
		WireType: wireType,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, path []string, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Path:   path,
		GoType: goType,
		Detail: "nil pointer",
	}
}

// Call errors

// NativeFailure carries the message reported by the native side for a failed call
func NativeFailure(fn uint32, message string) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindNativeFailure,
		Detail: fmt.Sprintf("function %d: %s", fn, message),
		Value:  message,
	}
}

// CallbackFailed wraps an error raised inside a managed callback
func CallbackFailed(id uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindCallbackFailed,
		Detail: fmt.Sprintf("callback %d", id),
		Value:  id,
		Cause:  cause,
	}
}

// Released reports use of a handle or callback after release
func Released(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReleased,
		Detail: what + " already released",
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExportsError is returned when a peer module lacks required exports
type MissingExportsError struct {
	Exports []string
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[load] missing_export: no exports specified"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "peer module is missing %d export(s):", len(e.Exports))
	for _, name := range e.Exports {
		b.WriteString("\n  - ")
		b.WriteString(name)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	if _, ok := target.(*MissingExportsError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == KindMissingExport && (t.Phase == "" || t.Phase == PhaseLoad)
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a peer loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Config creates a configuration error
func Config(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
