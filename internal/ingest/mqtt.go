package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"

	"rescuefusion/internal/config"
)

// StartMQTT subscribes to the WiFi CSI topic and feeds the coalescer. The returned
// client is disconnected when ctx is done.
func StartMQTT(ctx context.Context, cfg *config.Manager, wifi WifiSubmitter, logger *slog.Logger) (mqtt.Client, error) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil, nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetConnectTimeout(current.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", current.Broker, "error", err)
		}
	})
	topic, qos := current.Topic, current.QoS
	// resubscribe on every (re)connect since the session is clean
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
			HandleWifiPayload(wifi, msg.Topic(), msg.Payload(), logger)
		})
		if token.Wait() && token.Error() != nil && logger != nil {
			logger.Error("mqtt subscribe failed", "topic", topic, "error", token.Error())
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(current.ConnectTimeout) {
		client.Disconnect(0)
		return nil, eris.Errorf("connect to mqtt broker %s: no answer within %s", current.Broker, current.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, eris.Wrapf(err, "connect to mqtt broker %s", current.Broker)
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", topic, "qos", qos)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return client, nil
}

// HandleWifiPayload submits one MQTT message. Sensors publishing on
// sensors/wifi/{id}/csi may omit sensor_id from the body.
func HandleWifiPayload(wifi WifiSubmitter, topic string, payload []byte, logger *slog.Logger) {
	_ = submitWifi(wifi, payload, SensorFromTopic(topic), "mqtt", logger)
}

// SensorFromTopic returns the first numeric topic segment, or 0.
func SensorFromTopic(topic string) int64 {
	for _, part := range strings.Split(topic, "/") {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 0
}
