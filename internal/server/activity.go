package server

import (
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/events/bus"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/log"
)

// ActivityLogger returns a bus handler that writes one log line per event.
func ActivityLogger(logger log.Log) bus.Handler {
	logger = logger.With(log.String("component", "activity"))
	return func(e bus.Event) error {
		fields := []log.Field{
			log.String("kind", string(e.Kind)),
			log.Time("at", e.Time),
		}
		if e.ClientID != "" {
			fields = append(fields, log.String("client_id", e.ClientID))
		}
		if e.ItemID != "" {
			fields = append(fields, log.String("item_id", e.ItemID))
		}
		if e.From != "" || e.To != "" {
			fields = append(fields, log.String("from", e.From), log.String("to", e.To))
		}
		if e.LastUpdated != 0 {
			fields = append(fields, log.Int64("last_updated", e.LastUpdated))
		}
		logger.Info("Board activity", fields...)
		return nil
	}
}
