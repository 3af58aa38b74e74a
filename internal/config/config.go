// Package config parses the INI-style main.conf described in spec.md §6
// into a typed Config, mirroring the Python original's src/config.py
// section/key layout.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"

	"restreamer/internal/profile"
	"restreamer/internal/restreamerrors"
)

// Kind distinguishes the two input-source variants of spec.md §3.
type Kind int

const (
	// NetworkCam pulls frames over RTSP from an IP camera.
	NetworkCam Kind = iota
	// LocalCam reads frames from a USB-attached depth/color camera.
	LocalCam
)

// Endpoint is a host:port pair, used as a sink's network destination.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.Host, e.Port)
}

// DeviceConfig describes one configured input device, immutable once
// parsed. Name is unique per process.
type DeviceConfig struct {
	Name          string
	Kind          Kind
	PullURL       string // set for NetworkCam: rtsp://login:pass@ip:port/path
	StreamPath    string
	SinkEndpoint  Endpoint
	IPAddress     string // bare IP, kept for DeviceByIP lookups
}

// Config holds the full parsed main.conf.
type Config struct {
	// [Router]
	RouterIP       string
	RouterLogin    string
	RouterPassword string

	// [settings]
	TimeoutSeconds        int
	ConnectionType        string
	StreamMonitorInterval int

	// [Profile]
	BaseProfile      profile.EncodingProfile
	DegradationSteps int
	CameraLogin      string
	CameraPassword   string
	CameraPort       string
	CameraOutput     string // host:port base for sink RTP output

	Devices     []DeviceConfig
	deviceByIP  map[string]*DeviceConfig
	deviceByName map[string]*DeviceConfig

	// [connection_check]
	PingIP  string
	CurlURL string

	// [adaptive_mode]
	AdaptiveModeEnabled bool
}

// Load reads and parses path, logging a warning for each malformed
// input_devices entry rather than aborting startup, per spec.md §6.
func Load(path string, logger zerolog.Logger) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", restreamerrors.ErrConfigInvalid, path, err)
	}

	cfg := &Config{
		deviceByIP:   make(map[string]*DeviceConfig),
		deviceByName: make(map[string]*DeviceConfig),
	}

	router := f.Section("Router")
	cfg.RouterIP = router.Key("ip_addr").String()
	cfg.RouterLogin = router.Key("login").String()
	cfg.RouterPassword = router.Key("password").String()
	if cfg.RouterIP == "" || cfg.RouterLogin == "" {
		return nil, fmt.Errorf("%w: [Router] ip_addr and login are required", restreamerrors.ErrConfigInvalid)
	}

	settings := f.Section("settings")
	cfg.TimeoutSeconds = settings.Key("timeout").MustInt(5)
	cfg.ConnectionType = settings.Key("connection_type").String()
	cfg.StreamMonitorInterval = settings.Key("stream_monitor_interval").MustInt(60)

	prof := f.Section("Profile")
	resolution := prof.Key("resolution").String()
	width, height, err := parseResolution(resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: [Profile] resolution: %v", restreamerrors.ErrConfigInvalid, err)
	}
	bitrate, err := parseBitrate(prof.Key("bitrate").String())
	if err != nil {
		return nil, fmt.Errorf("%w: [Profile] bitrate: %v", restreamerrors.ErrConfigInvalid, err)
	}
	fps, err := prof.Key("fps").Int()
	if err != nil {
		return nil, fmt.Errorf("%w: [Profile] fps: %v", restreamerrors.ErrConfigInvalid, err)
	}
	cfg.BaseProfile = profile.EncodingProfile{Width: width, Height: height, BitrateKbps: bitrate, FPS: fps}

	cfg.DegradationSteps, err = prof.Key("degradation_steps").Int()
	if err != nil {
		return nil, fmt.Errorf("%w: [Profile] degradation_steps: %v", restreamerrors.ErrConfigInvalid, err)
	}
	if cfg.DegradationSteps < 1 || cfg.DegradationSteps > 10 {
		return nil, fmt.Errorf("%w: degradation_steps %d out of range [1,10]", restreamerrors.ErrConfigInvalid, cfg.DegradationSteps)
	}

	cfg.CameraLogin = prof.Key("camera_login").String()
	cfg.CameraPassword = prof.Key("camera_password").String()
	cfg.CameraPort = prof.Key("camera_port").String()
	cfg.CameraOutput = prof.Key("camera_output").String()

	cfg.Devices = parseDevices(prof.Key("input_devices").String(), cfg, logger)
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		cfg.deviceByName[d.Name] = d
		if d.IPAddress != "" {
			cfg.deviceByIP[d.IPAddress] = d
		}
	}

	check := f.Section("connection_check")
	cfg.PingIP = check.Key("ping_ip").String()
	cfg.CurlURL = check.Key("curl_url").String()

	cfg.AdaptiveModeEnabled = f.Section("adaptive_mode").Key("enabled").MustBool(true)

	return cfg, nil
}

// DeviceByName returns the device config registered under name, if any.
func (c *Config) DeviceByName(name string) (*DeviceConfig, bool) {
	d, ok := c.deviceByName[name]
	return d, ok
}

// DeviceByIP returns the device config whose bare IP matches addr, if any.
// Carried forward from the original's Config.get_device_by_ip, unused by
// the controller itself but kept for debug/status lookups (SPEC_FULL.md).
func (c *Config) DeviceByIP(addr string) (*DeviceConfig, bool) {
	d, ok := c.deviceByIP[addr]
	return d, ok
}

func parseResolution(s string) (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	height, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func parseBitrate(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "k")
	return strconv.Atoi(s)
}

// parseDevices parses the comma-separated "name;ip;path" triples of
// [Profile] input_devices. Entries with fewer than 3 fields are skipped
// with a logged warning, matching src/config.py's _parse_device_configs.
func parseDevices(raw string, cfg *Config, logger zerolog.Logger) []DeviceConfig {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var devices []DeviceConfig
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(entry, ";")
		if len(parts) < 3 {
			logger.Warn().Str("entry", entry).Msg("device entry is not properly formatted; expected 'name;ip;path', skipping")
			continue
		}
		name := strings.TrimSpace(parts[0])
		ip := strings.TrimSpace(parts[1])
		streamPath := strings.TrimSpace(parts[2])

		kind := NetworkCam
		if strings.EqualFold(name, "local") || strings.EqualFold(name, "oakd") {
			kind = LocalCam
		}

		d := DeviceConfig{
			Name:       name,
			Kind:       kind,
			StreamPath: streamPath,
			IPAddress:  ip,
			SinkEndpoint: Endpoint{
				Host: hostOf(cfg.CameraOutput),
				Port: portOf(cfg.CameraOutput),
			},
		}
		// For NetworkCam entries, the second field is a bare IP and the
		// pull URL is assembled from it. For LocalCam entries ("local" /
		// "oakd"), the same field instead names the local device path
		// (e.g. "/dev/video0"); there is no pull URL to build.
		if kind == NetworkCam {
			d.PullURL = fmt.Sprintf("rtsp://%s:%s@%s:%s%s", cfg.CameraLogin, cfg.CameraPassword, ip, cfg.CameraPort, streamPath)
		}
		devices = append(devices, d)
	}
	return devices
}

func hostOf(hostport string) string {
	h, _, ok := strings.Cut(hostport, ":")
	if !ok {
		return hostport
	}
	return h
}

func portOf(hostport string) string {
	_, p, ok := strings.Cut(hostport, ":")
	if !ok {
		return ""
	}
	return p
}
