package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg *Config
	}{
		{
			name: "listen mode defaults",
			env: map[string]string{
				"NETPIPEFS_MODE": "listen",
			},
			wantCfg: &Config{
				Mode:               "listen",
				ListenAddr:         ":9090",
				MountPoint:         "/mnt/netpipefs",
				PipeCapacity:       65536,
				RemotePipeCapacity: 65536,
				HandshakeTimeout:   10 * time.Second,
				HealthAddr:         ":8091",
				Transport:          "tcp",
			},
		},
		{
			name: "connect mode requires remote addr",
			env: map[string]string{
				"NETPIPEFS_MODE": "connect",
			},
			wantErr: true,
		},
		{
			name: "connect mode with remote addr",
			env: map[string]string{
				"NETPIPEFS_MODE":        "connect",
				"NETPIPEFS_REMOTE_ADDR": "10.0.0.1:9090",
			},
			wantCfg: &Config{
				Mode:               "connect",
				ListenAddr:         ":9090",
				RemoteAddr:         "10.0.0.1:9090",
				MountPoint:         "/mnt/netpipefs",
				PipeCapacity:       65536,
				RemotePipeCapacity: 65536,
				HandshakeTimeout:   10 * time.Second,
				HealthAddr:         ":8091",
				Transport:          "tcp",
			},
		},
		{
			name:    "missing mode",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "invalid mode",
			env: map[string]string{
				"NETPIPEFS_MODE": "bogus",
			},
			wantErr: true,
		},
		{
			name: "invalid transport",
			env: map[string]string{
				"NETPIPEFS_MODE":      "listen",
				"NETPIPEFS_TRANSPORT": "udp",
			},
			wantErr: true,
		},
		{
			name: "zero pipe capacity rejected",
			env: map[string]string{
				"NETPIPEFS_MODE":          "listen",
				"NETPIPEFS_PIPE_CAPACITY": "0",
			},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg, cfg)
			}
		})
	}
}
