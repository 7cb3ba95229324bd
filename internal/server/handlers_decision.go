package server

import (
	"encoding/json"
	"log"

	"github.com/fixdeck/host/internal/actions"
	apperrors "github.com/fixdeck/host/internal/errors"
)

// handleDecision processes patch.apply, patch.decline and patch.undo. The
// result goes to the requesting client only; tree and diagnostics changes
// reach every client through the engine callbacks.
func (c *Client) handleDecision(t MessageType, id string, raw json.RawMessage) {
	var payload DecisionPayload
	if err := decodePayload(raw, &payload); err != nil {
		log.Printf("server: failed to parse %s payload: %v", t, err)
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "invalid message format"))
		return
	}

	if t != MessageTypePatchUndo && payload.PatchPath == "" {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "patchPath is required"))
		return
	}

	if !c.decisionLimiter.Allow() {
		log.Printf("server: %s rate limited", t)
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerRateLimited, "too many decisions, slow down"))
		return
	}

	c.server.mu.RLock()
	decider := c.server.decider
	c.server.mu.RUnlock()

	if decider == nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerHandlerMissing, "decision handler not configured"))
		return
	}

	ctx := c.server.ctx
	var (
		outcome *actions.Outcome
		err     error
	)
	switch t {
	case MessageTypePatchApply:
		outcome, err = decider.Apply(ctx, payload.PatchPath, payload.Reason)
	case MessageTypePatchDecline:
		outcome, err = decider.Decline(ctx, payload.PatchPath, payload.Reason)
	case MessageTypePatchUndo:
		outcome, err = decider.Undo(ctx, payload.Reason)
	}
	if err != nil {
		log.Printf("server: %s %s failed: %v", t, payload.PatchPath, err)
		code, message := apperrors.ToCodeAndMessage(err)
		c.trySend(NewErrorResultMessage(t, id, code, message))
		return
	}

	log.Printf("server: %s %s ok", t, outcome.PatchPath)
	c.trySend(NewResultMessage(t, id, outcome))
}

// handlePreview processes patch.preview.
func (c *Client) handlePreview(id string, raw json.RawMessage) {
	const t = MessageTypePatchPreview

	var payload PreviewPayload
	if err := decodePayload(raw, &payload); err != nil || payload.PatchPath == "" {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "patchPath is required"))
		return
	}

	c.server.mu.RLock()
	decider := c.server.decider
	c.server.mu.RUnlock()

	if decider == nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerHandlerMissing, "decision handler not configured"))
		return
	}

	pv, err := decider.Preview(payload.PatchPath)
	if err != nil {
		code, message := apperrors.ToCodeAndMessage(err)
		c.trySend(NewErrorResultMessage(t, id, code, message))
		return
	}
	c.trySend(NewResultMessage(t, id, pv))
}
