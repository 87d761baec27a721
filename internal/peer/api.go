package peer

import (
	"fmt"

	"github.com/BioHazard786/roomcall/internal/logging"
	"github.com/pion/interceptor"
	pionlogging "github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

type apiOptions struct {
	net           *vnet.Net
	loggerFactory pionlogging.LoggerFactory
}

// APIOption customises NewAPI.
type APIOption func(*apiOptions)

// WithVNet binds ICE to a pion virtual network instead of the host's interfaces.
func WithVNet(n *vnet.Net) APIOption {
	return func(o *apiOptions) { o.net = n }
}

// WithLoggerFactory overrides the slog bridge used for pion's own logs.
func WithLoggerFactory(f pionlogging.LoggerFactory) APIOption {
	return func(o *apiOptions) { o.loggerFactory = f }
}

// NewAPI builds a webrtc.API with the default codecs and interceptors.
func NewAPI(opts ...APIOption) (*webrtc.API, error) {
	o := apiOptions{loggerFactory: logging.PionFactory{}}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: o.loggerFactory}
	if o.net != nil {
		se.SetNet(o.net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}
