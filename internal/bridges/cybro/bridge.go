package cybro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// registryTimeout bounds registry writes made from the update listener.
const registryTimeout = 5 * time.Second

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the MQTT surface the bridge needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Coordinator is the update coordinator the bridge listens on.
// *coordinator.Coordinator[*scgi.Device] satisfies it.
type Coordinator interface {
	Data() (*scgi.Device, bool)
	LastUpdateSuccess() bool
	Stats() coordinator.Stats
	AddListener(fn func()) (remove func())
	Refresh(ctx context.Context) error
}

// EntityRegistry persists entities and their state changes.
// *entity.Registry satisfies it.
type EntityRegistry interface {
	Sync(ctx context.Context, entities []entity.Entity) (added, removed int, err error)
	RecordState(ctx context.Context, id string, state entity.State) (bool, error)
}

// Telemetry records numeric entity values.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteSamples(nad int, samples []influxdb.Sample, at time.Time)
}

// Options holds the dependencies and settings of a bridge.
type Options struct {
	// NAD is the PLC network address.
	NAD int

	// Weather enables the weather station entities.
	Weather bool

	// ExtraBinarySensors lists variable names exposed as plain binary sensors.
	ExtraBinarySensors []string

	// DiscoveryEnabled publishes Home Assistant discovery configs.
	DiscoveryEnabled bool

	// DiscoveryPrefix is the Home Assistant discovery prefix.
	// Default: "homeassistant"
	DiscoveryPrefix string

	// HealthInterval is how often to publish bridge health.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Version is the bridge software version reported in health messages.
	Version string

	// Address is the SCGI server address reported in health messages.
	Address string

	MQTT        Publisher
	Coordinator Coordinator

	// Tracker receives every variable an entity reads (normally the
	// *scgi.Client polled by the coordinator).
	Tracker entity.Tracker

	// Registry and Telemetry are optional.
	Registry  EntityRegistry
	Telemetry Telemetry

	Logger Logger
}

// Bridge publishes the PLC's entities over MQTT.
//
// It listens on the coordinator. The first successful update classifies
// the PLC's variables, builds the entities, syncs the registry, publishes
// discovery and requests an immediate refresh so the newly tracked
// variables are fetched. Every update then republishes availability and
// changed entity states.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts   Options
	health *HealthReporter
	logger Logger

	// updateMu serialises update handling; listeners may run concurrently
	// when refreshes are requested from several goroutines.
	updateMu     sync.Mutex
	entities     []entity.Entity
	ready        bool
	availability string

	// stateCache holds the last published state per entity, JSON encoded.
	stateCache   map[string][]byte
	stateCacheMu sync.RWMutex

	removeListener func()

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidOptions)
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", ErrInvalidOptions)
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("%w: tracker is required", ErrInvalidOptions)
	}
	if opts.NAD <= 0 {
		return nil, fmt.Errorf("%w: PLC address must be positive", ErrInvalidOptions)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		opts:       opts,
		logger:     logger,
		stateCache: make(map[string][]byte),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  cancel,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Address:   opts.Address,
		NAD:       opts.NAD,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Poll:      opts.Coordinator,
	})
	b.health.SetLogger(logger)

	return b, nil
}

// Start registers the update listener and starts health reporting.
// If the coordinator already holds data the current state is handled
// immediately.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	b.removeListener = b.opts.Coordinator.AddListener(b.handleUpdate)
	b.health.Start(ctx)

	if _, ok := b.opts.Coordinator.Data(); ok {
		b.handleUpdate()
	}

	b.logger.Info("bridge started", "nad", b.opts.NAD, "discovery", b.opts.DiscoveryEnabled)
	return nil
}

// Stop detaches from the coordinator, publishes offline availability and
// a final "stopping" health message. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// done is closed under updateMu so no update can start a refresh
		// once wg.Wait is reached.
		b.updateMu.Lock()
		close(b.done)
		b.updateMu.Unlock()
		b.ctxCancel()

		if b.removeListener != nil {
			b.removeListener()
		}
		b.wg.Wait()

		b.health.Stop()

		if err := b.opts.MQTT.Publish(AvailabilityTopic(), []byte(PayloadOffline), 1, true); err != nil {
			b.logger.Warn("failed to publish offline availability", "error", err)
		}

		b.logger.Info("bridge stopped")
	})
}

// handleUpdate runs after every coordinator fetch, successful or not.
func (b *Bridge) handleUpdate() {
	select {
	case <-b.done:
		return
	default:
	}

	b.updateMu.Lock()
	defer b.updateMu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	success := b.opts.Coordinator.LastUpdateSuccess()
	b.publishAvailability(success)

	if !b.ready {
		if !success {
			return
		}
		b.setup()
		b.requestRefresh()
	}

	b.publishStates()

	if success {
		b.writeTelemetry()
	}
}

// setup builds the entity set from the first successful snapshot.
func (b *Bridge) setup() {
	dev, _ := b.opts.Coordinator.Data()

	descs := entity.Classify(entity.ClassifierOptions{
		NAD:                b.opts.NAD,
		Weather:            b.opts.Weather,
		ExtraBinarySensors: b.opts.ExtraBinarySensors,
	}, dev.KnownVarNames())

	b.entities = entity.NewEntities(descs, b.opts.Coordinator, b.opts.Tracker)
	b.ready = true
	b.health.SetEntityCount(len(b.entities))

	if b.opts.Registry != nil {
		ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
		added, removed, err := b.opts.Registry.Sync(ctx, b.entities)
		cancel()
		if err != nil {
			b.logger.Error("entity registry sync failed", "error", err)
		} else {
			b.logger.Info("entity registry synced", "added", added, "removed", removed)
		}
	}

	if b.opts.DiscoveryEnabled {
		if err := publishDiscovery(b.opts.MQTT, b.opts.DiscoveryPrefix, b.entities); err != nil {
			b.logger.Error("discovery publish incomplete", "error", err)
		}
	}

	b.logger.Info("entities set up",
		"entities", len(b.entities),
		"known_vars", len(dev.KnownVarNames()),
	)
}

// requestRefresh asks the coordinator for an immediate fetch so variables
// tracked during setup are read without waiting for the next tick. The
// caller holds updateMu.
func (b *Bridge) requestRefresh() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.opts.Coordinator.Refresh(b.ctx); err != nil {
			b.logger.Debug("post-setup refresh failed", "error", err)
		}
	}()
}

// publishAvailability publishes bridge availability when it changes.
func (b *Bridge) publishAvailability(success bool) {
	payload := PayloadOffline
	if success {
		payload = PayloadOnline
	}
	if payload == b.availability {
		return
	}

	if err := b.opts.MQTT.Publish(AvailabilityTopic(), []byte(payload), 1, true); err != nil {
		b.logger.Warn("failed to publish availability", "error", err)
		return
	}
	b.availability = payload
}

// publishStates publishes every entity whose state changed since the last
// publication and records the change in the registry.
func (b *Bridge) publishStates() {
	published := 0
	for _, e := range b.entities {
		st := e.State()

		key, err := json.Marshal(st)
		if err != nil {
			b.logger.Warn("encoding entity state", "entity", e.UniqueID(), "error", err)
			continue
		}
		if b.stateUnchanged(e.UniqueID(), key) {
			continue
		}

		payload, err := json.Marshal(NewStateMessage(e, st))
		if err != nil {
			b.logger.Warn("encoding state message", "entity", e.UniqueID(), "error", err)
			continue
		}
		if err := b.opts.MQTT.Publish(StateTopic(e.UniqueID()), payload, 1, true); err != nil {
			b.logger.Warn("failed to publish state", "entity", e.UniqueID(), "error", err)
			b.forgetState(e.UniqueID())
			continue
		}
		published++

		b.recordState(e.UniqueID(), st)
	}

	if published > 0 {
		b.logger.Debug("entity states published", "count", published)
	}
}

func (b *Bridge) recordState(id string, st entity.State) {
	if b.opts.Registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
	defer cancel()
	if _, err := b.opts.Registry.RecordState(ctx, id, st); err != nil {
		b.logger.Warn("failed to record entity state", "entity", id, "error", err)
	}
}

// writeTelemetry writes the numeric and boolean entity values of the
// current snapshot. Booleans are written as 0 or 1.
func (b *Bridge) writeTelemetry() {
	if b.opts.Telemetry == nil {
		return
	}

	samples := make([]influxdb.Sample, 0, len(b.entities))
	for _, e := range b.entities {
		st := e.State()
		if !st.Available {
			continue
		}
		v, ok := numeric(st.Value)
		if !ok {
			continue
		}
		d := e.Descriptor()
		samples = append(samples, influxdb.Sample{
			EntityID:    d.UniqueID,
			DeviceID:    d.Group.ID,
			DeviceClass: string(d.DeviceClass),
			Unit:        d.Unit,
			Value:       v,
		})
	}

	at := time.Now()
	if dev, ok := b.opts.Coordinator.Data(); ok && dev != nil && !dev.UpdatedAt.IsZero() {
		at = dev.UpdatedAt
	}
	b.opts.Telemetry.WriteSamples(b.opts.NAD, samples, at)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// stateUnchanged reports whether encoded matches the cached state of id,
// storing it when it does not.
func (b *Bridge) stateUnchanged(id string, encoded []byte) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[id]; ok && bytes.Equal(cached, encoded) {
		return true
	}
	b.stateCache[id] = encoded
	return false
}

func (b *Bridge) forgetState(id string) {
	b.stateCacheMu.Lock()
	delete(b.stateCache, id)
	b.stateCacheMu.Unlock()
}

// ClearStateCache forces availability and every entity state to be
// republished on the next update. Call after the MQTT connection is
// re-established.
func (b *Bridge) ClearStateCache() {
	b.updateMu.Lock()
	b.availability = ""
	b.updateMu.Unlock()

	b.stateCacheMu.Lock()
	b.stateCache = make(map[string][]byte)
	b.stateCacheMu.Unlock()
}

// Ready reports whether the entity set has been built.
func (b *Bridge) Ready() bool {
	b.updateMu.Lock()
	defer b.updateMu.Unlock()
	return b.ready
}

// Entities returns the exposed entities ordered by unique id.
func (b *Bridge) Entities() []entity.Entity {
	b.updateMu.Lock()
	out := make([]entity.Entity, len(b.entities))
	copy(out, b.entities)
	b.updateMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID() < out[j].UniqueID() })
	return out
}

// Entity returns the entity with the given unique id.
//
// Returns:
//   - entity.Entity: the entity
//   - error: ErrNotReady before setup, entity.ErrEntityNotFound if unknown
func (b *Bridge) Entity(id string) (entity.Entity, error) {
	b.updateMu.Lock()
	defer b.updateMu.Unlock()

	if !b.ready {
		return nil, ErrNotReady
	}
	for _, e := range b.entities {
		if e.UniqueID() == id {
			return e, nil
		}
	}
	return nil, entity.ErrEntityNotFound
}

// RepublishDiscovery publishes the discovery config of every entity again.
func (b *Bridge) RepublishDiscovery() error {
	if !b.opts.DiscoveryEnabled {
		return nil
	}
	b.updateMu.Lock()
	entities := b.entities
	ready := b.ready
	b.updateMu.Unlock()

	if !ready {
		return ErrNotReady
	}
	return publishDiscovery(b.opts.MQTT, b.opts.DiscoveryPrefix, entities)
}

// Metrics contains bridge data for the API metrics endpoint.
type Metrics struct {
	Ready        bool                    `json:"ready"`
	Entities     int                     `json:"entities"`
	Availability string                  `json:"availability"`
	MQTT         bool                    `json:"mqtt_connected"`
	Poll         coordinator.Stats       `json:"poll"`
	ByPlatform   map[entity.Platform]int `json:"by_platform"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() Metrics {
	b.updateMu.Lock()
	m := Metrics{
		Ready:        b.ready,
		Entities:     len(b.entities),
		Availability: b.availability,
		ByPlatform:   make(map[entity.Platform]int),
	}
	for _, e := range b.entities {
		m.ByPlatform[e.Platform()]++
	}
	b.updateMu.Unlock()

	m.MQTT = b.opts.MQTT.IsConnected()
	m.Poll = b.opts.Coordinator.Stats()
	return m
}
