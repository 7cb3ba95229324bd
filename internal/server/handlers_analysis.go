package server

import (
	"encoding/json"
	"log"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// handleAnalysisRun starts the analyzer in the background. The result is
// sent when the run finishes; a run already in progress is rejected at
// once.
func (c *Client) handleAnalysisRun(id string, raw json.RawMessage) {
	const t = MessageTypeAnalysisRun

	var payload AnalysisRunPayload
	if err := decodePayload(raw, &payload); err != nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "invalid message format"))
		return
	}

	c.server.mu.RLock()
	an := c.server.analyzer
	done := c.server.analysisDone
	c.server.mu.RUnlock()

	if an == nil {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeAnalysisNotConfigured, "analyzer not configured"))
		return
	}
	if an.IsRunning() {
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeAnalysisAlreadyRunning, "analysis is already running"))
		return
	}

	go func() {
		res, err := an.Run(c.server.ctx, payload.File)
		if done != nil {
			done(res, err)
		}
		if err != nil {
			log.Printf("server: analysis failed: %v", err)
			code, message := apperrors.ToCodeAndMessage(err)
			c.trySend(NewErrorResultMessage(t, id, code, message))
			return
		}
		c.trySend(NewResultMessage(t, id, res))
	}()
}
