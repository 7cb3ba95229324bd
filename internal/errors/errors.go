// Package errors provides standardized error codes for fixdeck.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (patch, manifest, undo, ...)
//   - error: The specific error type within that domain
//
// Codes are stable and are sent verbatim to editor clients over the bridge,
// so extensions can branch on them. Human-readable messages travel alongside.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Patch domain - unified-diff parsing and application
	CodePatchMalformed   = "patch.malformed"    // Missing ---/+++ headers or broken hunks
	CodePatchApplyFailed = "patch.apply_failed" // Hunk context not found, or already applied
	CodePatchNotFound    = "patch.not_found"    // Patch file or issue entry does not exist

	// Manifest domain - issue manifest and fragments
	CodeManifestLoadFailed  = "manifest.load_failed"  // Manifest missing or unreadable
	CodeFragmentParseFailed = "fragment.parse_failed" // One fragment is not valid JSON
	CodeManifestSaveFailed  = "manifest.save_failed"  // Rewriting a fragment failed

	// Undo domain
	CodeUndoNoSnapshot = "undo.no_snapshot" // Nothing has been applied or declined yet
	CodeUndoFailed     = "undo.failed"      // Snapshot could not be restored

	// Path domain
	CodePathResolutionFailed = "path.resolution_failed" // Patch source cannot be mapped under the root

	// Decision domain - reconciliation requests
	CodeDecisionInvalid   = "decision.invalid"    // Unknown decision or missing argument
	CodeDecisionLogFailed = "decision.log_failed" // Decision log append failed

	// Analysis domain - external analyzer process
	CodeAnalysisAlreadyRunning = "analysis.already_running" // A second run was requested
	CodeAnalysisNotConfigured  = "analysis.not_configured"  // Analyzer path or params missing
	CodeAnalysisFailed         = "analysis.failed"          // Analyzer exited non-zero

	// Keep-awake domain - sleep inhibition during analyzer runs
	CodeKeepAwakeUnsupported   = "keep_awake.unsupported"    // No inhibitor on this platform
	CodeKeepAwakeAcquireFailed = "keep_awake.acquire_failed" // Inhibitor could not be started

	// Storage domain - decision history database
	CodeStorageOpenFailed  = "storage.open_failed"
	CodeStorageQueryFailed = "storage.query_failed"
	CodeStorageSaveFailed  = "storage.save_failed"

	// Server domain - editor bridge transport
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message
	CodeServerHandlerMissing = "server.handler_missing" // No handler for message type
	CodeServerRateLimited    = "server.rate_limited"    // Too many decision messages
	CodeAuthRequired         = "auth.required"          // Missing bearer token
	CodeAuthInvalid          = "auth.invalid"           // Token does not match

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "patch.malformed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Constructors for the reconciliation error taxonomy.

// MalformedPatch reports a patch without parseable ---/+++ headers or hunks.
func MalformedPatch(patchPath, reason string) *CodedError {
	msg := fmt.Sprintf("malformed patch %s: %s", patchPath, reason)
	if patchPath == "" {
		msg = fmt.Sprintf("malformed patch: %s", reason)
	}
	return New(CodePatchMalformed, msg)
}

// PatchApplyFailed reports a hunk whose context could not be located.
func PatchApplyFailed(file, reason string) *CodedError {
	return New(CodePatchApplyFailed,
		fmt.Sprintf("cannot apply patch to %s: %s", file, reason))
}

// PatchNotFound reports a patch path with no issue entry or no file on disk.
func PatchNotFound(patchPath string) *CodedError {
	return New(CodePatchNotFound, fmt.Sprintf("patch not found: %s", patchPath))
}

// ManifestLoadFailed reports a missing or unreadable manifest.
func ManifestLoadFailed(manifestPath string, cause error) *CodedError {
	return Wrap(CodeManifestLoadFailed,
		fmt.Sprintf("cannot load issue manifest %s", manifestPath), cause)
}

// FragmentParseFailed reports one fragment that is not valid issue JSON.
func FragmentParseFailed(fragmentPath string, cause error) *CodedError {
	return Wrap(CodeFragmentParseFailed,
		fmt.Sprintf("cannot parse issue fragment %s", fragmentPath), cause)
}

// NoSnapshot reports an undo request with nothing to undo.
func NoSnapshot() *CodedError {
	return New(CodeUndoNoSnapshot, "nothing to undo: no patch has been applied or declined yet")
}

// PathResolutionFailed reports a patch source header that does not map to a
// file under the project root.
func PathResolutionFailed(path, reason string) *CodedError {
	return New(CodePathResolutionFailed,
		fmt.Sprintf("cannot resolve %s: %s", path, reason))
}

// AnalysisAlreadyRunning reports a second concurrent analyzer run.
func AnalysisAlreadyRunning() *CodedError {
	return New(CodeAnalysisAlreadyRunning, "analysis is already running")
}

// AnalysisNotConfigured reports a missing analyzer path or parameters.
func AnalysisNotConfigured(reason string) *CodedError {
	return New(CodeAnalysisNotConfigured, "cannot run analyzer: "+reason)
}

// AnalysisFailed reports an analyzer that could not start or exited non-zero.
func AnalysisFailed(message string, cause error) *CodedError {
	return Wrap(CodeAnalysisFailed, message, cause)
}

// InvalidDecision reports an unknown decision type or missing argument.
func InvalidDecision(reason string) *CodedError {
	return New(CodeDecisionInvalid, reason)
}

// InvalidMessage reports a malformed bridge message.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
