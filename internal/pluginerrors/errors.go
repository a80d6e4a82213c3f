// Package pluginerrors defines the typed error taxonomy shared by every
// component of the plugin host, modeled on the apierrors package's
// registry-of-codes idiom but returning ordinary Go errors rather than
// codes looked up through a global registry.
package pluginerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the core's error
// taxonomy. Kinds are stable and safe to switch on or log.
type Kind string

const (
	KindPluginNotFound      Kind = "plugin_not_found"
	KindLoadFailed          Kind = "load_failed"
	KindMissingSymbol       Kind = "missing_symbol"
	KindIncompatibleVersion Kind = "incompatible_version"
	KindAlreadyLoaded       Kind = "already_loaded"
	KindNotLoaded           Kind = "not_loaded"
	KindInvalidHandle       Kind = "invalid_handle"
	KindInitFailed          Kind = "init_failed"
	KindStartFailed         Kind = "start_failed"
	KindStopFailed          Kind = "stop_failed"
	KindOutOfMemory         Kind = "out_of_memory"
	KindMemoryLimitExceeded Kind = "memory_limit_exceeded"
	KindChecksumMismatch    Kind = "checksum_mismatch"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindPolicyViolation     Kind = "policy_violation"
	KindMissingDependency   Kind = "missing_dependency"
	KindCircularDependency  Kind = "circular_dependency"
	KindConflictingPlugin   Kind = "conflicting_plugin"
	KindInvalidVersion      Kind = "invalid_version"
	KindInvalidManifest     Kind = "invalid_manifest"
	KindAlreadyRegistered   Kind = "already_registered"
	KindNotFound            Kind = "not_found"
)

// Sub-reasons for KindPolicyViolation, per spec.md §7.
type PolicyReason string

const (
	ReasonPermissionDenied   PolicyReason = "permission_denied"
	ReasonSignatureRequired  PolicyReason = "signature_required"
	ReasonMemoryLimitExceeded PolicyReason = "memory_limit_exceeded"
)

// Error is the typed error returned by every core component. It always
// carries the offending plugin id (when known) so logs and callers can
// key off it without parsing a message string.
type Error struct {
	Kind   Kind
	Plugin string // plugin id, empty when not plugin-specific
	Reason PolicyReason
	Err    error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Plugin != "" {
		msg = fmt.Sprintf("%s: plugin %q", msg, e.Plugin)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, New(kind, "")) style sentinel comparisons
// keyed purely on Kind (plugin id and wrapped cause are ignored).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a bare *Error for the given kind and plugin id.
func New(kind Kind, plugin string) *Error {
	return &Error{Kind: kind, Plugin: plugin}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, plugin string, cause error) *Error {
	return &Error{Kind: kind, Plugin: plugin, Err: cause}
}

// WithReason builds a KindPolicyViolation error with a sub-reason.
func WithReason(plugin string, reason PolicyReason, cause error) *Error {
	return &Error{Kind: KindPolicyViolation, Plugin: plugin, Reason: reason, Err: cause}
}

// Is reports whether err (or something it wraps) is a pluginerrors.Error
// of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ErrInvalidVersion is the sentinel kind used by internal/semver. It
// carries no plugin id since version parsing is context-free.
var ErrInvalidVersion = New(KindInvalidVersion, "")
