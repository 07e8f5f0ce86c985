package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-beep/internal/bus"
	"github.com/loqalabs/loqa-beep/internal/config"
	"github.com/loqalabs/loqa-beep/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T, url string) *bus.Client {
	t.Helper()
	c, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{url}, ConnectTimeout: 2000}, "capability-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func nodeConfig(id string, caps ...string) config.NodeConfig {
	cfg := config.NodeConfig{ID: id, Role: "beep", HeartbeatInterval: 50, HeartbeatTimeout: 200}
	for _, c := range caps {
		cfg.Capabilities = append(cfg.Capabilities, config.NodeCapability{Name: c, Tier: "local"})
	}
	return cfg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPeersDiscoverEachOther(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	first, err := NewAnnouncer(context.Background(), nodeConfig("speaker", "beep.tone", "beep.morse"), map[string]string{"sink": "oto"}, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("first announcer: %v", err)
	}
	t.Cleanup(first.Close)

	second, err := NewAnnouncer(context.Background(), nodeConfig("renderer", "beep.music"), nil, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("second announcer: %v", err)
	}
	t.Cleanup(second.Close)

	eventually(t, func() bool { return len(first.Peers("beep.music")) == 1 })
	eventually(t, func() bool { return len(second.Peers("beep.morse")) == 1 })

	peer := second.Peers("beep.tone")[0]
	if peer.ID != "speaker" || peer.Role != "beep" {
		t.Fatalf("unexpected peer %+v", peer)
	}
	if peer.Capabilities[0].Attributes["sink"] != "oto" {
		t.Fatalf("expected sink attribute on advertised capability, got %+v", peer.Capabilities[0])
	}
	if got := first.Peers("beep.morse"); len(got) != 0 {
		t.Fatalf("a node must not list itself as a peer, got %+v", got)
	}
	eventually(t, first.Healthy)
}

func TestSilentPeerTurnsUnhealthy(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	a, err := NewAnnouncer(context.Background(), nodeConfig("watcher", "beep.tone"), nil, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("announcer: %v", err)
	}
	t.Cleanup(a.Close)

	a.observe("ghost", "beep", []Capability{{Name: "beep.tone"}}, time.Now().Add(-time.Minute))
	eventually(t, func() bool { return len(a.Peers("")) == 0 })
}

func TestCapabilityAttributesMerge(t *testing.T) {
	caps := capabilities([]config.NodeCapability{
		{Name: "beep.tone", Attributes: map[string]string{"sink": "keyer"}},
		{Name: "beep.morse"},
	}, map[string]string{"sink": "oto", "sample_rate": "44100"})
	if caps[0].Attributes["sink"] != "keyer" || caps[0].Attributes["sample_rate"] != "44100" {
		t.Fatalf("configured attributes must win, got %+v", caps[0])
	}
	if caps[1].Attributes["sink"] != "oto" {
		t.Fatalf("expected runtime attributes on bare capability, got %+v", caps[1])
	}
}

func TestFailedSubscribeRemovesEarlierSubscriptions(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client := connect(t, srv.ClientURL())

	a := &Announcer{bus: client, log: newLogger()}
	var made []*nats.Subscription
	refused := errors.New("subscription refused")
	err = a.subscribeAll(func(subject string, h nats.MsgHandler) (*nats.Subscription, error) {
		if len(made) == 1 {
			return nil, refused
		}
		sub, err := client.Conn().Subscribe(subject, h)
		if err == nil {
			made = append(made, sub)
		}
		return sub, err
	})
	if !errors.Is(err, refused) {
		t.Fatalf("expected refused subscription error, got %v", err)
	}
	if len(made) != 1 {
		t.Fatalf("expected one subscription before the failure, got %d", len(made))
	}
	if made[0].IsValid() {
		t.Fatalf("expected the announce subscription to be removed")
	}
	if len(a.subs) != 0 {
		t.Fatalf("expected no tracked subscriptions, got %d", len(a.subs))
	}
}
