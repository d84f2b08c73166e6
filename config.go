package main

import (
	"fmt"
	"strconv"
	"time"

	"summercat.com/config"
)

// Config holds a server's configuration, loaded from the file named on the
// command line.
type Config struct {
	ListenHost string
	ListenPort string

	ServerName  string
	ServerInfo  string
	Version     string
	CreatedDate string
	MOTD        []string

	MaxNickLength int

	// Backlog is the TCP listen backlog passed to NewListenerSocket.
	Backlog int

	// MaxRetries bounds how many WouldBlock retries a queued outbound line
	// survives before being dropped.
	MaxRetries int

	// PeerLinksFile optionally names a config file listing peer servers to
	// dial at startup, each as a "name = host:port" line. Blank means no
	// outbound links are dialed.
	PeerLinksFile string

	// WakeupTime is the period of the ticker that paces the server loop:
	// after each zero-timeout RunOnce tick and its dispatch/flush, the loop
	// waits for the next tick.
	WakeupTime time.Duration
}

// requiredConfigKeys are the keys LoadConfig insists on seeing a non-blank
// value for. Keys not in this list are optional and fall back to a
// default.
var requiredConfigKeys = []string{
	"listen-host",
	"listen-port",
	"server-name",
	"server-info",
	"version",
	"created-date",
}

// LoadConfig reads and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	configMap, err := config.ReadStringMap(path)
	if err != nil {
		return nil, fmt.Errorf("problem reading config file: %s", err)
	}

	for _, key := range requiredConfigKeys {
		v, exists := configMap[key]
		if !exists || len(v) == 0 {
			return nil, fmt.Errorf("missing or blank required config key: %s", key)
		}
	}

	cfg := &Config{
		ListenHost:    configMap["listen-host"],
		ListenPort:    configMap["listen-port"],
		ServerName:    configMap["server-name"],
		ServerInfo:    configMap["server-info"],
		Version:       configMap["version"],
		CreatedDate:   configMap["created-date"],
		MaxNickLength: defaultMaxNickLength,
		Backlog:       20,
		MaxRetries:    3,
		WakeupTime:    time.Second,
		PeerLinksFile: configMap["peer-links-file"],
	}

	if v, ok := configMap["motd"]; ok && len(v) > 0 {
		cfg.MOTD = splitMOTD(v)
	}

	if v, ok := configMap["max-nick-length"]; ok && len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("max-nick-length is not valid: %s", err)
		}
		cfg.MaxNickLength = n
	}

	if v, ok := configMap["backlog"]; ok && len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("backlog is not valid: %s", err)
		}
		cfg.Backlog = n
	}

	if v, ok := configMap["max-retries"]; ok && len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("max-retries is not valid: %s", err)
		}
		cfg.MaxRetries = n
	}

	if v, ok := configMap["wakeup-time"]; ok && len(v) > 0 {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("wakeup-time is in invalid format: %s", err)
		}
		cfg.WakeupTime = d
	}

	return cfg, nil
}

// splitMOTD turns a single config value into display lines, matching the
// "\n" escape a config file line can't otherwise carry literally.
func splitMOTD(v string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) && v[i+1] == 'n' {
			lines = append(lines, v[start:i])
			i++
			start = i + 1
		}
	}
	lines = append(lines, v[start:])
	return lines
}
