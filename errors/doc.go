// Package errors provides structured error types for the native bridge.
//
// Errors are categorized by Phase (which stage of a call failed) and Kind
// (error category). The Error type carries the field path, the Go type and
// wire type involved, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidVariant).
//		Path("shape", "kind").
//		GoType("geom.Kind").
//		Detail("variant index %d out of range", idx).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NoCodec(path, "main.Widget")
//	err := errors.ShortBuffer(path, 8, 3)
//
// Matching compares phase and kind; an empty field in the target is a wildcard:
//
//	if errors.Is(err, &errors.Error{Kind: errors.KindNativeFailure}) { ... }
package errors
