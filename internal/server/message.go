// Package server provides the WebSocket bridge for editor clients.
// Clients send decisions (apply, decline, undo), preview patches, query
// the issue tree and diagnostics, and start analyzer runs. The host pushes
// tree refreshes, diagnostics updates and analyzer output to every client.
package server

import (
	"github.com/fixdeck/host/internal/diagnostics"
)

// MessageType identifies the kind of message being sent over WebSocket.
// Each type has a specific payload structure defined below.
type MessageType string

const (
	// MessageTypeHello is sent by the host right after a client connects.
	// Payload: HelloPayload
	MessageTypeHello MessageType = "host.hello"

	// MessageTypeError sends errors not tied to a request.
	// Payload: ResultPayload
	MessageTypeError MessageType = "error"

	// MessageTypePatchApply is sent by clients to apply a patch.
	// Payload: DecisionPayload
	MessageTypePatchApply MessageType = "patch.apply"

	// MessageTypePatchDecline is sent by clients to decline a patch.
	// Payload: DecisionPayload
	MessageTypePatchDecline MessageType = "patch.decline"

	// MessageTypePatchUndo is sent by clients to undo the last decision.
	// Payload: DecisionPayload (patchPath ignored)
	MessageTypePatchUndo MessageType = "patch.undo"

	// MessageTypePatchPreview is sent by clients to see both sides of a patch.
	// Payload: PreviewPayload
	MessageTypePatchPreview MessageType = "patch.preview"

	// MessageTypeIssuesList is sent by clients to fetch the issue tree.
	// Payload: IssuesListPayload
	MessageTypeIssuesList MessageType = "issues.list"

	// MessageTypeDiagnosticsRequest is sent by clients when a document is
	// opened or focused.
	// Payload: DiagnosticsRequestPayload
	MessageTypeDiagnosticsRequest MessageType = "diagnostics.request"

	// MessageTypeAnalysisRun is sent by clients to start the analyzer.
	// Payload: AnalysisRunPayload
	MessageTypeAnalysisRun MessageType = "analysis.run"

	// MessageTypeTreeRefresh tells clients the issue tree changed.
	// Payload: TreeRefreshPayload
	MessageTypeTreeRefresh MessageType = "tree.refresh"

	// MessageTypeDiagnosticsUpdate replaces the diagnostics of one document.
	// Payload: DiagnosticsUpdatePayload
	MessageTypeDiagnosticsUpdate MessageType = "diagnostics.update"

	// MessageTypeAnalysisOutput carries one analyzer output line.
	// Payload: AnalysisOutputPayload
	MessageTypeAnalysisOutput MessageType = "analysis.output"
)

// resultSuffix is appended to a request type to name its response.
const resultSuffix = ".result"

// ResultType returns the response type for request type t.
func ResultType(t MessageType) MessageType {
	return t + resultSuffix
}

// Message is the envelope for all WebSocket messages.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// ID correlates a response with its request. Responses echo the ID
	// of the request they answer.
	ID string `json:"id,omitempty"`

	// Payload contains the message-specific data.
	// The structure depends on the Type field.
	Payload interface{} `json:"payload"`
}

// HelloPayload describes the host to a new client.
type HelloPayload struct {
	Version         string `json:"version"`
	ProjectRoot     string `json:"projectRoot"`
	AnalysisRunning bool   `json:"analysisRunning"`
}

// DecisionPayload is sent with patch.apply, patch.decline and patch.undo.
type DecisionPayload struct {
	PatchPath string `json:"patchPath"`
	Reason    string `json:"reason,omitempty"`
}

// PreviewPayload is sent with patch.preview.
type PreviewPayload struct {
	PatchPath string `json:"patchPath"`
}

// IssuesListPayload is sent with issues.list. An empty query returns the
// whole tree.
type IssuesListPayload struct {
	Query string `json:"query,omitempty"`
}

// DiagnosticsRequestPayload is sent with diagnostics.request.
type DiagnosticsRequestPayload struct {
	File string `json:"file"`
}

// AnalysisRunPayload is sent with analysis.run. An empty file analyzes
// the whole project.
type AnalysisRunPayload struct {
	File string `json:"file,omitempty"`
}

// ResultPayload answers every request. Data depends on the request type:
// *actions.Outcome for decisions, *actions.Preview for previews,
// *issues.Tree for issues.list, []diagnostics.Diagnostic for
// diagnostics.request and *analyzer.Result for analysis.run.
type ResultPayload struct {
	Success   bool        `json:"success"`
	ErrorCode string      `json:"errorCode,omitempty"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// TreeRefreshPayload names the patch whose removal changed the tree. It is
// empty when the whole tree was reloaded.
type TreeRefreshPayload struct {
	PatchPath string `json:"patchPath,omitempty"`
}

// DiagnosticsUpdatePayload replaces the diagnostics of File.
type DiagnosticsUpdatePayload struct {
	File        string                   `json:"file"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
}

// AnalysisOutputPayload carries one analyzer output line.
type AnalysisOutputPayload struct {
	Line string `json:"line"`
}

// NewResultMessage creates a successful response to request t.
func NewResultMessage(t MessageType, id string, data interface{}) Message {
	return Message{
		Type:    ResultType(t),
		ID:      id,
		Payload: ResultPayload{Success: true, Data: data},
	}
}

// NewErrorResultMessage creates a failed response to request t.
func NewErrorResultMessage(t MessageType, id, code, message string) Message {
	return Message{
		Type:    ResultType(t),
		ID:      id,
		Payload: ResultPayload{ErrorCode: code, Error: message},
	}
}

// NewTreeRefreshMessage creates a tree.refresh message.
func NewTreeRefreshMessage(patchPath string) Message {
	return Message{
		Type:    MessageTypeTreeRefresh,
		Payload: TreeRefreshPayload{PatchPath: patchPath},
	}
}

// NewDiagnosticsUpdateMessage creates a diagnostics.update message.
func NewDiagnosticsUpdateMessage(file string, diags []diagnostics.Diagnostic) Message {
	if diags == nil {
		diags = []diagnostics.Diagnostic{}
	}
	return Message{
		Type:    MessageTypeDiagnosticsUpdate,
		Payload: DiagnosticsUpdatePayload{File: file, Diagnostics: diags},
	}
}

// NewAnalysisOutputMessage creates an analysis.output message.
func NewAnalysisOutputMessage(line string) Message {
	return Message{
		Type:    MessageTypeAnalysisOutput,
		Payload: AnalysisOutputPayload{Line: line},
	}
}

