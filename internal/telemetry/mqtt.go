// Package telemetry publishes server and match events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/config"
	"github.com/nhatientri/Buckshot/internal/events"
	"github.com/nhatientri/Buckshot/internal/util"
)

// MQTT topics
const (
	TopicAdmin  = "buckshot/admin"
	TopicStatus = "buckshot/status"
	TopicMatch  = "buckshot/match"
)

// MQTTHandler manages the MQTT connection and publishes telemetry
// events. Matches and player sessions appear on their own topics so
// dashboards can subscribe selectively.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApp().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.Platform,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"server_name": cfg.GetServer().Name,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("buckshot-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CAFile != "" {
			caData, err := os.ReadFile(mqttCfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. Blocks
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.GetApp().MQTT.BrokerURL).
		Int("port", h.cfg.GetApp().MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	go h.statusLoop(ctx)

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// statusLoop publishes a periodic host status heartbeat.
func (h *MQTTHandler) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := map[string]interface{}{
				"event": "heartbeat",
			}
			if cpuUsage, err := util.GetCPUUsage(); err == nil {
				status["cpu_percent"] = cpuUsage
			}
			if memUsage, err := util.GetMemoryUsage(); err == nil {
				status["memory_used_percent"] = memUsage.UsedPercent
			}
			h.publish(TopicStatus, status)
		}
	}
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventMatchStarted, "mqtt.matchStarted", h.onMatchStarted)
	h.eventBus.Subscribe(events.EventMatchCompleted, "mqtt.matchCompleted", h.onMatchCompleted)
	h.eventBus.Subscribe(events.EventMatchPaused, "mqtt.matchPaused", h.onMatchPaused)
	h.eventBus.Subscribe(events.EventReplaySaved, "mqtt.replaySaved", h.onReplaySaved)
	h.eventBus.Subscribe(events.EventPlayerLoggedIn, "mqtt.playerLoggedIn", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventPlayerDisconnected, "mqtt.playerDisconnected", h.onPlayerEvent)
	h.eventBus.Subscribe(events.EventQueueJoined, "mqtt.queueJoined", h.onQueueEvent)
	h.eventBus.Subscribe(events.EventQueueLeft, "mqtt.queueLeft", h.onQueueEvent)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onMatchStarted(ctx context.Context, event events.Event) error {
	h.publish(TopicMatch, map[string]interface{}{
		"event":   "match_started",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMatchCompleted(ctx context.Context, event events.Event) error {
	h.publish(TopicMatch, map[string]interface{}{
		"event":   "match_completed",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onMatchPaused(ctx context.Context, event events.Event) error {
	h.publish(TopicMatch, map[string]interface{}{
		"event":   "match_paused",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onReplaySaved(ctx context.Context, event events.Event) error {
	h.publish(TopicMatch, map[string]interface{}{
		"event":   "replay_saved",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onPlayerEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onQueueEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicStatus, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
