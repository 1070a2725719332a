package mcp

import (
	"context"

	"flowfarm/pkg/logger"
)

// ProgressNotification is the method of the notifications pushed for batch events.
const ProgressNotification = "notifications/batch/progress"

// forwardEvents pushes every batch event to the connected clients until ctx ends
// or the app closes the subscription. Slow clients miss events rather than block the batch.
func (s *MCPServer) forwardEvents(ctx context.Context) {
	events, cancel := s.app.SubscribeEvents(128)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("mcp").Str("type", string(ev.Type)).Str("batch", ev.BatchID).Msg("forwarding batch event")
			s.server.SendNotificationToAllClients(ProgressNotification, eventParams(ev))
		}
	}
}

func eventParams(ev Event) map[string]any {
	params := map[string]any{
		"id":      ev.ID,
		"type":    string(ev.Type),
		"time":    ev.Time,
		"batchId": ev.BatchID,
	}
	optional := map[string]string{
		"deviceId": ev.DeviceID,
		"itemId":   ev.ItemID,
		"status":   ev.Status,
		"error":    ev.Error,
	}
	for k, v := range optional {
		if v != "" {
			params[k] = v
		}
	}
	if ev.Stats != nil {
		params["stats"] = ev.Stats
	}
	return params
}
