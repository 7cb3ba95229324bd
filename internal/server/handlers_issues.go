package server

import (
	"encoding/json"
	"strings"

	"github.com/fixdeck/host/internal/diagnostics"
	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/issues"
)

// handleIssuesList returns the issue tree, filtered by query when given.
func (c *Client) handleIssuesList(id string, raw json.RawMessage) {
	const t = MessageTypeIssuesList

	var payload IssuesListPayload
	if err := decodePayload(raw, &payload); err != nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "invalid message format"))
		return
	}

	c.server.mu.RLock()
	src := c.server.issueSource
	c.server.mu.RUnlock()

	if src == nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerHandlerMissing, "issue store not configured"))
		return
	}

	var tree *issues.Tree
	if q := strings.TrimSpace(payload.Query); q != "" {
		tree = src.Filter(q)
	} else {
		tree = src.Tree()
	}
	c.trySend(NewResultMessage(t, id, tree))
}

// handleDiagnosticsRequest recomputes the diagnostics of one document.
// The requester gets them as the result; every client gets the
// diagnostics.update broadcast.
func (c *Client) handleDiagnosticsRequest(id string, raw json.RawMessage) {
	const t = MessageTypeDiagnosticsRequest

	var payload DiagnosticsRequestPayload
	if err := decodePayload(raw, &payload); err != nil || payload.File == "" {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "file is required"))
		return
	}

	c.server.mu.RLock()
	src := c.server.issueSource
	c.server.mu.RUnlock()

	if src == nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerHandlerMissing, "issue store not configured"))
		return
	}

	diags := diagnostics.Refresh(src, payload.File, c.server.Diagnostics())
	if diags == nil {
		diags = []diagnostics.Diagnostic{}
	}
	c.trySend(NewResultMessage(t, id, diags))
}
