// Package capability advertises what a beep node can do and keeps track of
// the other nodes on the bus.
package capability

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-beep/internal/bus"
	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/protocol"
)

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Node is the last known state of a peer (or of this node).
type Node struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

// Offers reports whether the node advertises capability name.
func (n Node) Offers(name string) bool {
	return slices.ContainsFunc(n.Capabilities, func(c Capability) bool { return c.Name == name })
}

type announcement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer publishes this node's capabilities, sends heartbeats and
// tracks peers. A peer that has not been heard from within the heartbeat
// timeout is marked unhealthy.
type Announcer struct {
	cfg    config.NodeConfig
	self   announcement
	bus    *bus.Client
	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	now    func() time.Time

	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewAnnouncer announces the node and starts heartbeating. attrs (for
// example the active sink and sample rate) are added to every advertised
// capability.
func NewAnnouncer(ctx context.Context, cfg config.NodeConfig, attrs map[string]string, busClient *bus.Client, log *slog.Logger) (*Announcer, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:    cfg,
		bus:    busClient,
		log:    log.With(slog.String("component", "capability-announcer")),
		cancel: cancel,
		now:    time.Now,
		nodes:  make(map[string]*Node),
	}
	a.self = announcement{NodeID: cfg.ID, Role: cfg.Role, Capabilities: capabilities(cfg.Capabilities, attrs)}

	if err := a.registerMetrics(); err != nil {
		a.log.Warn("failed to register capability metrics", slog.String("error", err.Error()))
	}
	if err := a.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	if err := a.announce(); err != nil {
		a.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	a.wg.Add(1)
	go a.loop(ctx)
	return a, nil
}

func capabilities(source []config.NodeCapability, attrs map[string]string) []Capability {
	out := make([]Capability, 0, len(source))
	for _, c := range source {
		merged := maps.Clone(c.Attributes)
		if merged == nil && len(attrs) > 0 {
			merged = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			if _, set := merged[k]; !set {
				merged[k] = v
			}
		}
		out = append(out, Capability{Name: c.Name, Tier: c.Tier, Attributes: merged})
	}
	return out
}

func (a *Announcer) subscribe() error {
	conn := a.bus.Conn()
	if err := a.subscribeAll(conn.Subscribe); err != nil {
		return err
	}
	if err := conn.Flush(); err != nil {
		a.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	return nil
}

// subscribeAll registers the announce and heartbeat handlers. A failure
// removes the subscriptions made so far.
func (a *Announcer) subscribeAll(subscribe func(string, nats.MsgHandler) (*nats.Subscription, error)) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectNodeAnnounce, a.handleAnnounce},
		{protocol.SubjectNodeHeartbeatPrefix + ".*", a.handleHeartbeat},
	}
	for _, h := range handlers {
		sub, err := subscribe(h.subject, h.handler)
		if err != nil {
			a.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		a.subs = append(a.subs, sub)
	}
	return nil
}

func (a *Announcer) unsubscribe() {
	for _, sub := range a.subs {
		_ = sub.Unsubscribe()
	}
	a.subs = nil
}

func (a *Announcer) loop(ctx context.Context) {
	defer a.wg.Done()
	beat := time.NewTicker(time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond)
	defer beat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			if err := a.bus.PublishJSON(protocol.SubjectNodeHeartbeatPrefix+"."+a.cfg.ID, heartbeat{NodeID: a.cfg.ID, Timestamp: a.now().UTC()}); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			a.expire()
		}
	}
}

func (a *Announcer) announce() error {
	msg := a.self
	msg.Timestamp = a.now().UTC()
	if err := a.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	a.observe(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (a *Announcer) handleAnnounce(msg *nats.Msg) {
	var in announcement
	if err := json.Unmarshal(msg.Data, &in); err != nil || in.NodeID == "" {
		a.log.Warn("invalid announce message")
		return
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = a.now().UTC()
	}
	if isNew := a.observe(in.NodeID, in.Role, in.Capabilities, in.Timestamp); isNew && in.NodeID != a.cfg.ID {
		// a late joiner has not seen our announcement yet
		a.log.Info("peer joined", slog.String("node_id", in.NodeID), slog.String("role", in.Role))
		if err := a.announce(); err != nil {
			a.log.Warn("failed to re-announce node", slog.String("error", err.Error()))
		}
	}
}

func (a *Announcer) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		a.log.Warn("invalid heartbeat message")
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = a.now().UTC()
	}
	a.observe(hb.NodeID, "", nil, hb.Timestamp)
}

// observe records a sighting and reports whether the node was unknown.
func (a *Announcer) observe(id, role string, caps []Capability, seen time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.nodes[id]
	if !ok {
		node = &Node{ID: id}
		a.nodes[id] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(caps) > 0 {
		node.Capabilities = caps
	}
	if seen.After(node.LastSeen) {
		node.LastSeen = seen
	}
	node.Healthy = true
	return !ok
}

func (a *Announcer) expire() {
	timeout := time.Duration(a.cfg.HeartbeatTimeout) * time.Millisecond
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, node := range a.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			a.log.Warn("node missed heartbeats", slog.String("node_id", node.ID))
		}
	}
}

// Healthy reports whether this node's own heartbeats are arriving.
func (a *Announcer) Healthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	node, ok := a.nodes[a.cfg.ID]
	return ok && node.Healthy
}

// Self returns the advertised capabilities of this node.
func (a *Announcer) Self() []Capability {
	return slices.Clone(a.self.Capabilities)
}

// Peers returns healthy nodes other than this one that offer capability
// name, or every healthy peer when name is empty.
func (a *Announcer) Peers(name string) []Node {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Node
	for _, node := range a.nodes {
		if node.ID == a.cfg.ID || !node.Healthy {
			continue
		}
		if name == "" || node.Offers(name) {
			out = append(out, *node)
		}
	}
	slices.SortFunc(out, func(x, y Node) int { return cmp.Compare(x.ID, y.ID) })
	return out
}

func (a *Announcer) registerMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-beep/capability")
	peers, err := meter.Int64ObservableGauge("loqa.beep.peers.healthy", metric.WithDescription("Healthy beep nodes seen on the bus"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		a.mu.RLock()
		defer a.mu.RUnlock()
		var n int64
		for _, node := range a.nodes {
			if node.Healthy {
				n++
			}
		}
		obs.ObserveInt64(peers, n)
		return nil
	}, peers)
	return err
}

// Close stops heartbeating and unsubscribes.
func (a *Announcer) Close() {
	a.cancel()
	a.wg.Wait()
	for _, sub := range a.subs {
		_ = sub.Drain()
	}
}
