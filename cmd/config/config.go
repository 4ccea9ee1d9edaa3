// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the netpipefs daemon.
type Config struct {
	// Mode selects which side of the handshake this peer plays: "listen"
	// accepts the inbound connection, "connect" dials out.
	Mode string `envconfig:"NETPIPEFS_MODE"`

	ListenAddr string `envconfig:"NETPIPEFS_LISTEN_ADDR" default:":9090"`
	RemoteAddr string `envconfig:"NETPIPEFS_REMOTE_ADDR"`

	MountPoint string `envconfig:"NETPIPEFS_MOUNTPOINT" default:"/mnt/netpipefs"`

	// PipeCapacity is this peer's local ring buffer size per pipe.
	PipeCapacity int `envconfig:"NETPIPEFS_PIPE_CAPACITY" default:"65536"`
	// RemotePipeCapacity is this peer's initial advertisement of how much it
	// is willing to buffer on behalf of the other side.
	RemotePipeCapacity int `envconfig:"NETPIPEFS_REMOTE_PIPE_CAPACITY" default:"65536"`

	HandshakeTimeout time.Duration `envconfig:"NETPIPEFS_HANDSHAKE_TIMEOUT" default:"10s"`

	HealthAddr string `envconfig:"NETPIPEFS_HEALTH_ADDR" default:":8091"`

	// Transport selects "tcp" or "ws".
	Transport string `envconfig:"NETPIPEFS_TRANSPORT" default:"tcp"`

	Verbose bool `envconfig:"NETPIPEFS_VERBOSE" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Mode != "listen" && config.Mode != "connect" {
		return fmt.Errorf("NETPIPEFS_MODE must be \"listen\" or \"connect\", got %q", config.Mode)
	}
	if config.Mode == "listen" && config.ListenAddr == "" {
		return fmt.Errorf("NETPIPEFS_LISTEN_ADDR is required in listen mode")
	}
	if config.Mode == "connect" && config.RemoteAddr == "" {
		return fmt.Errorf("NETPIPEFS_REMOTE_ADDR is required in connect mode")
	}
	if config.MountPoint == "" {
		return fmt.Errorf("NETPIPEFS_MOUNTPOINT is required")
	}
	if config.PipeCapacity <= 0 {
		return fmt.Errorf("NETPIPEFS_PIPE_CAPACITY must be greater than 0")
	}
	if config.RemotePipeCapacity <= 0 {
		return fmt.Errorf("NETPIPEFS_REMOTE_PIPE_CAPACITY must be greater than 0")
	}
	if config.HandshakeTimeout <= 0 {
		return fmt.Errorf("NETPIPEFS_HANDSHAKE_TIMEOUT must be greater than 0")
	}
	if config.Transport != "tcp" && config.Transport != "ws" {
		return fmt.Errorf("NETPIPEFS_TRANSPORT must be \"tcp\" or \"ws\", got %q", config.Transport)
	}
	return nil
}
