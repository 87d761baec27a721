package peer

import (
	"net"
	"strings"

	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/pion/webrtc/v4"
)

// cgnat covers carrier-grade NAT and the overlay ranges WARP and Tailscale use.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

type hostInterface struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

func localInterfaces() []hostInterface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	out := make([]hostInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		out = append(out, hostInterface{name: iface.Name, flags: iface.Flags, addrs: addrs})
	}
	return out
}

// looksTunneled reports whether an active interface is a VPN tunnel or sits
// in CGNAT space, where direct paths rarely work.
func looksTunneled(ifaces []hostInterface) bool {
	for _, iface := range ifaces {
		if iface.flags&net.FlagUp == 0 || iface.flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, prefix := range tunnelNames {
			if strings.HasPrefix(name, prefix) {
				return true
			}
		}

		for _, addr := range iface.addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// iceConfiguration turns cfg into a pion configuration. Relay-only transport
// is used when forced, or when TURN is available and the host looks tunneled.
func iceConfiguration(cfg *config.Config, ifaces func() []hostInterface) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	turn := cfg.GetTURNServers()
	if turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turn != nil && (cfg.ForceRelay || looksTunneled(ifaces())) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}
