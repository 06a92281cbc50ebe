package broadcast

import (
	"log/slog"

	"rescuefusion/internal/config"
)

// Setup builds the emitter over every enabled transport. The hub is nil when
// WebSocket broadcasting is disabled.
func Setup(cfg config.BroadcastConfig, logger *slog.Logger) (*Emitter, *Hub) {
	var pubs Fanout
	var hub *Hub
	if cfg.WebSocket.Enabled {
		hub = NewHub(cfg.WebSocket.ClientBuffer, logger)
		pubs = append(pubs, hub)
	}
	if cfg.Redis.Enabled {
		pubs = append(pubs, NewRedis(cfg.Redis))
		if logger != nil {
			logger.Info("redis broadcast enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
		}
	}
	if cfg.Kafka.Enabled {
		pubs = append(pubs, NewKafka(cfg.Kafka))
		if logger != nil {
			logger.Info("kafka broadcast enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		}
	}
	return NewEmitter(pubs), hub
}
