package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kleeedolinux/notebookws/socket"
	"github.com/kleeedolinux/notebookws/socket/transport"
)

type Config struct {
	Endpoint   Endpoint        `yaml:"endpoint"`
	Notebook   string          `yaml:"notebook"`
	TicketFile string          `yaml:"ticket_file"`
	Keepalive  time.Duration   `yaml:"keepalive_interval"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`
	Transport  TransportConfig `yaml:"transport"`
}

// Endpoint resolves the backend's WebSocket URL. URL wins when set.
type Endpoint struct {
	URL    string `yaml:"url"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
	Path   string `yaml:"path"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type TransportConfig struct {
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Compression      bool          `yaml:"compression"`
}

func Default() *Config {
	return &Config{
		Endpoint: Endpoint{
			Host: "localhost",
			Port: 8080,
			Path: "/ws",
		},
		Keepalive: 15 * time.Second,
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		Transport: TransportConfig{
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Endpoint.WebsocketURL(); err != nil {
		return err
	}
	if c.Keepalive <= 0 {
		return fmt.Errorf("keepalive_interval must be positive, got %v", c.Keepalive)
	}
	if c.Reconnect.BaseDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	if c.Reconnect.MaxAttempts != 0 && c.Reconnect.BaseDelay == 0 {
		return fmt.Errorf("reconnect base_delay must be positive when max_attempts is %d", c.Reconnect.MaxAttempts)
	}
	return nil
}

// WebsocketURL returns Endpoint.URL verbatim or builds ws[s]://host:port/path.
func (e Endpoint) WebsocketURL() (string, error) {
	if e.URL != "" {
		u, err := url.Parse(e.URL)
		if err != nil {
			return "", fmt.Errorf("endpoint url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("endpoint url: unsupported scheme %q", u.Scheme)
		}
		return e.URL, nil
	}

	if e.Host == "" {
		return "", fmt.Errorf("endpoint: host is required when url is empty")
	}

	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}

	host := e.Host
	if e.Port > 0 {
		host = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	}

	path := e.Path
	if path == "" {
		path = "/ws"
	}

	u := url.URL{Scheme: scheme, Host: host, Path: path}
	return u.String(), nil
}

func (c *Config) TransportOptions() []transport.WebSocketOption {
	return []transport.WebSocketOption{
		transport.WithReadTimeout(c.Transport.ReadTimeout),
		transport.WithWriteTimeout(c.Transport.WriteTimeout),
		transport.WithHandshakeTimeout(c.Transport.HandshakeTimeout),
		transport.WithCompression(c.Transport.Compression),
	}
}

func (c *Config) ClientOptions() []socket.ClientOption {
	opts := []socket.ClientOption{
		socket.WithKeepaliveInterval(c.Keepalive),
		socket.WithReconnectDelay(c.Reconnect.BaseDelay),
		socket.WithMaxReconnectDelay(c.Reconnect.MaxDelay),
		socket.WithReconnectAttempts(c.Reconnect.MaxAttempts),
	}
	if c.Notebook != "" {
		opts = append(opts, socket.WithScope(c.Notebook))
	}
	return opts
}

// NewClient wires a socket.Client from the configuration. extra options are
// applied after the configured ones.
func (c *Config) NewClient(sink socket.Sink, ticket *socket.Ticket, extra ...socket.ClientOption) (*socket.Client, error) {
	wsURL, err := c.Endpoint.WebsocketURL()
	if err != nil {
		return nil, err
	}

	t := transport.NewWebSocketTransport(wsURL, c.TransportOptions()...)
	opts := append(c.ClientOptions(), extra...)
	return socket.NewClient(sink, ticket, t, opts...), nil
}
