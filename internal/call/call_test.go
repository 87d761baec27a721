package call_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/peer"
	"github.com/BioHazard786/roomcall/internal/relay"
	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

func startRelay(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.Routes(hub))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func vnetAPI(t *testing.T, router *vnet.Router, ip string) *webrtc.API {
	t.Helper()
	n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
	if err != nil {
		t.Fatalf("new net: %v", err)
	}
	if err := router.AddNet(n); err != nil {
		t.Fatalf("add net: %v", err)
	}
	api, err := peer.NewAPI(peer.WithVNet(n))
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

type participant struct {
	orch      *call.Orchestrator
	chat      *chat.Relay
	states    chan call.State
	confirmed chan struct{}
	lines     chan chat.Line
	result    chan error
}

type listener struct {
	call.NopListener
	p *participant
}

func (l listener) StateChanged(_, to call.State) { l.p.states <- to }
func (l listener) TransportConfirmed()           { l.p.confirmed <- struct{}{} }
func (l listener) ChatLine(line chat.Line)       { l.p.lines <- line }

func join(t *testing.T, url string, api *webrtc.API, codec signaling.Codec, name string) *participant {
	t.Helper()
	client := signaling.NewClient(url, codec)
	p := &participant{
		chat:      chat.NewRelay(client, "lobby", name),
		states:    make(chan call.State, 32),
		confirmed: make(chan struct{}, 4),
		lines:     make(chan chat.Line, 8),
		result:    make(chan error, 1),
	}
	p.orch = call.New(call.Options{Room: "lobby", Constraints: media.Constraints{Video: true, Audio: true}}, call.Deps{
		Relay: client,
		Media: media.SilentSource{},
		NewPeer: func() (call.PeerConnection, error) {
			return peer.NewAdapter(api, &config.Config{})
		},
		Chat:     p.chat,
		Listener: listener{p: p},
	})
	go func() { p.result <- p.orch.Run(context.Background()) }()
	t.Cleanup(func() {
		p.orch.Leave()
		<-p.orch.Done()
	})
	return p
}

func (p *participant) waitFor(t *testing.T, want call.State) {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for {
		select {
		case s := <-p.states:
			if s == want {
				return
			}
			if s.Terminal() {
				t.Fatalf("reached %s waiting for %s", s, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (p *participant) waitConfirmed(t *testing.T) {
	t.Helper()
	select {
	case <-p.confirmed:
	case <-time.After(20 * time.Second):
		t.Fatal("transport never confirmed")
	}
}

func TestTwoParticipantsConnect(t *testing.T) {
	url := startRelay(t)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatal(err)
	}
	apiX := vnetAPI(t, router, "10.0.0.1")
	apiY := vnetAPI(t, router, "10.0.0.2")
	if err := router.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	x := join(t, url, apiX, signaling.JSONCodec{}, "X")
	x.waitFor(t, call.StateOfferSent)

	y := join(t, url, apiY, signaling.MsgpackCodec{}, "Y")
	y.waitFor(t, call.StateAnswerSent)
	y.waitFor(t, call.StateConnected)
	x.waitFor(t, call.StateConnected)

	x.waitConfirmed(t)
	y.waitConfirmed(t)

	if got := x.orch.Stats().Role; got != call.RoleOfferer {
		t.Errorf("first participant role %s", got)
	}
	if got := y.orch.Stats().Role; got != call.RoleAnswerer {
		t.Errorf("second participant role %s", got)
	}

	if err := x.chat.Send("hi"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []*participant{x, y} {
		select {
		case line := <-p.lines:
			if line.Text != "hi" || line.Name != "X" {
				t.Fatalf("unexpected line %+v", line)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("chat line not delivered")
		}
	}

	x.orch.Leave()
	select {
	case err := <-x.result:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after leave")
	}
}
