package mqttplane

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unipi-control/unipi-controld/internal/config"
	"github.com/unipi-control/unipi-controld/internal/modbus"
	"github.com/unipi-control/unipi-controld/internal/registry"
)

// Router is a pre-built map from topic to handler closure, matching
// spec.md §4.G's description of inbound dispatch. Handlers are installed
// once at construction and re-subscribed on every reconnection.
type Router struct {
	handlers map[string]func(payload []byte)
}

// NewRouter builds an empty router.
func NewRouter() *Router { return &Router{handlers: make(map[string]func(payload []byte))} }

// Handle registers a handler for a topic.
func (r *Router) Handle(topic string, fn func(payload []byte)) { r.handlers[topic] = fn }

// Plane owns the single broker connection and dispatches inbound /set
// messages through its Router, republishing retained state and
// discovery documents on every successful (re)connect.
type Plane struct {
	log    *zap.Logger
	cfg    config.MQTTConfig
	device string
	client paho.Client
	router *Router

	mu        sync.Mutex
	onConnect []func()

	fatal chan error
}

// New builds a Plane but does not connect; call Connect to do so. Paho's
// own auto-reconnect is disabled: reconnection is driven by this package so
// that cfg.RetryLimit/cfg.ReconnectInterval govern every reconnect, not just
// the first one (spec.md §4.G, §7 MqttDisconnect).
func New(log *zap.Logger, cfg config.MQTTConfig, deviceName string, router *Router) *Plane {
	p := &Plane{log: log.Named("mqtt"), cfg: cfg, device: deviceName, router: router, fatal: make(chan error, 1)}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(fmt.Sprintf("unipi-controld-%s-%s", deviceName, uuid.NewString()[:8])).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetWill(AvailabilityTopic(deviceName), "offline", 1, true).
		SetOnConnectHandler(func(c paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			p.log.Warn("mqtt connection lost", zap.Error(err))
			go p.reconnect()
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	return p
}

// OnConnect registers a callback fired after every successful connect,
// after subscriptions are re-established — used to trigger a full
// retained-state republish and discovery republish (spec.md §4.G, §4.H).
func (p *Plane) OnConnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = append(p.onConnect, fn)
}

// Connect dials the broker for the first time, retrying per
// cfg.ReconnectInterval up to cfg.RetryLimit attempts before giving up
// fatally (spec.md §4.G, §7 MqttDisconnect).
func (p *Plane) Connect() error {
	return p.dialWithRetry()
}

// reconnect re-dials after an unexpected mid-run disconnect, spending the
// same retry_limit/reconnect_interval budget as the initial connect.
// Exhausting it is reported on Errors() rather than retried forever, so a
// broker outage eventually becomes fatal per spec.md §4.G.
func (p *Plane) reconnect() {
	if err := p.dialWithRetry(); err != nil {
		select {
		case p.fatal <- err:
		default:
			// A fatal error is already queued; the daemon is already
			// shutting down on its account.
		}
	}
}

func (p *Plane) dialWithRetry() error {
	var lastErr error
	attempts := p.cfg.RetryLimit
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		tok := p.client.Connect()
		if tok.WaitTimeout(10*time.Second) && tok.Error() == nil {
			return nil
		}
		lastErr = tok.Error()
		p.log.Warn("mqtt connect attempt failed", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(p.cfg.ReconnectInterval)
	}

	return &MqttDisconnectError{Attempts: attempts, Err: lastErr}
}

// Errors reports a fatal, retry-budget-exhausted disconnect (spec.md §4.G,
// §7 MqttDisconnect). Never closed; the daemon selects on it alongside its
// other supervised tasks.
func (p *Plane) Errors() <-chan error { return p.fatal }

// handleConnect re-subscribes every router topic, announces availability,
// then fires OnConnect callbacks. Called on every (re)connect,
// satisfying spec.md §4.G "re-subscribes on every reconnection".
func (p *Plane) handleConnect() {
	for topic, handler := range p.router.handlers {
		h := handler
		if tok := p.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			h(msg.Payload())
		}); tok.Wait() && tok.Error() != nil {
			p.log.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(tok.Error()))
		}
	}

	p.PublishAvailability(true)

	p.mu.Lock()
	callbacks := append([]func(){}, p.onConnect...)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Disconnect publishes offline availability and closes the connection
// gracefully (used during daemon shutdown, spec.md §5).
func (p *Plane) Disconnect() {
	p.PublishAvailability(false)
	p.client.Disconnect(250)
}

// PublishAvailability publishes retained online/offline state.
func (p *Plane) PublishAvailability(online bool) {
	payload := "offline"
	if online {
		payload = "online"
	}
	p.publishRetained(AvailabilityTopic(p.device), payload)
}

// PublishFeature publishes the retained state for one decoded feature
// value, formatting per spec.md §6 (ON/OFF for digital, ASCII float for
// analog/meter).
func (p *Plane) PublishFeature(kind, suffix string, v registry.FeatureValue) {
	var payload string
	switch v.Kind {
	case registry.ValueBool:
		payload = "OFF"
		if v.Bool {
			payload = "ON"
		}
	case registry.ValueFloat:
		payload = strconv.FormatFloat(float64(v.Float), 'f', 2, 32)
	default:
		return
	}
	p.publishRetained(FeatureGetTopic(p.device, kind, suffix), payload)
}

// PublishMeter publishes a meter field's retained state with its
// unit-scoped topic (spec.md §6).
func (p *Plane) PublishMeter(field, unit string, v float32) {
	payload := strconv.FormatFloat(float64(v), 'f', 2, 32)
	p.publishRetained(MeterTopic(p.device, field, unit), payload)
}

// PublishCoverState publishes the cover's retained state and position
// topics, and its tilt topic when hasTilt is true.
func (p *Plane) PublishCoverState(topics CoverTopics, state, position, tilt string, hasTilt bool) {
	p.publishRetained(topics.State, state)
	p.publishRetained(topics.Position, position)
	if hasTilt {
		p.publishRetained(topics.Tilt, tilt)
	}
}

// PublishDiscovery publishes one retained discovery document.
func (p *Plane) PublishDiscovery(topic string, payload []byte) {
	p.publishRetainedBytes(topic, payload)
}

func (p *Plane) publishRetained(topic, payload string) {
	p.publishRetainedBytes(topic, []byte(payload))
}

func (p *Plane) publishRetainedBytes(topic string, payload []byte) {
	tok := p.client.Publish(topic, 1, true, payload)
	go func() {
		if tok.Wait() && tok.Error() != nil {
			p.log.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(tok.Error()))
		}
	}()
}

// SubmitFeatureWrite is the Router handler bridge: an inbound /set payload
// for a writable feature is parsed per its kind — ON/OFF for digital
// outputs, an ASCII float for analog outputs — encoded, and submitted to
// its transport's Command Queue (spec.md §4.G inbound dispatch).
func SubmitFeatureWrite(reg *registry.Registry, queue *modbus.Queue, featureID string, payload []byte) {
	f, ok := reg.Get(featureID)
	if !ok || !f.Writable() {
		return
	}

	var value registry.FeatureValue
	if f.Kind == config.KindAnalogOutput {
		v, err := strconv.ParseFloat(string(payload), 32)
		if err != nil {
			return
		}
		value = registry.FeatureValue{Kind: registry.ValueFloat, Float: float32(v)}
	} else {
		value = registry.FeatureValue{Kind: registry.ValueBool, Bool: string(payload) == "ON"}
	}

	cmd, err := registry.EncodeWrite(f, value)
	if err != nil {
		return
	}
	queue.Submit(cmd)
}
