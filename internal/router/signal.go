package router

import (
	"log/slog"

	"tetatet/internal/models"
	"tetatet/internal/storage"
)

var relayTypes = map[models.ClientEventType]models.ServerEventType{
	models.ClientEventCall:   models.ServerEventCall,
	models.ClientEventAnswer: models.ServerEventAnswer,
	models.ClientEventICE:    models.ServerEventICE,
}

// relay passes a call-signaling payload verbatim to every connection of
// the target user. No state is touched. An offline target means the event
// is dropped silently: signaling is explicitly best-effort.
func (rt *Router) relay(userID string, ev models.ClientEvent) {
	if ev.TargetID == "" {
		return
	}
	if !rt.registry.IsOnline(ev.TargetID) {
		slog.Debug("signal target offline", "from", userID, "target", ev.TargetID, "type", ev.Type)
		return
	}
	rt.registry.SendTo(ev.TargetID, models.ServerEvent{
		Type:   relayTypes[ev.Type],
		FromID: userID,
		Signal: ev.Signal,
	})
}

func pairLockKey(userA, userB string) string {
	return string(storage.PairKey(userA, userB))
}
