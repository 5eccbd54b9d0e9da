package process

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/config"
)

// ProxyName identifies the managed tinkerforge_mqtt process in logs and stats.
const ProxyName = "tinkerforge_mqtt"

const brickdDialTimeout = 2 * time.Second

// proxySettleDelay gives a relaunched proxy time to reach brickd and the
// broker before listeners are told it runs again.
const proxySettleDelay = 3 * time.Second

// ProxyOptions configures a Proxy.
type ProxyOptions struct {
	Proxy       config.ProxyConfig
	MQTT        config.MQTTConfig
	TopicPrefix string
	Logger      Logger
}

// Proxy supervises the tinkerforge_mqtt process that bridges brickd onto
// the MQTT broker. When the proxy is not managed every method is a no-op.
type Proxy struct {
	opts    ProxyOptions
	logger  Logger
	manager *Manager
	settle  time.Duration

	mu       sync.Mutex
	onChange func(running bool)
	settling *time.Timer
	stopped  bool
}

// NewProxy creates a proxy supervisor from configuration.
func NewProxy(opts ProxyOptions) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Proxy{opts: opts, logger: logger, settle: proxySettleDelay}
	if !opts.Proxy.Managed {
		return p
	}

	cfg := Config{
		Name:               ProxyName,
		Binary:             opts.Proxy.Binary,
		Args:               BuildProxyArgs(opts.Proxy, opts.MQTT, opts.TopicPrefix),
		RestartOnFailure:   opts.Proxy.RestartOnFailure,
		RestartDelay:       time.Duration(opts.Proxy.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: opts.Proxy.MaxRestartAttempts,
		// tinkerforge_mqtt exits 2 on bad arguments; retrying cannot help.
		FatalExitCodes: []int{2},
		OnExit: func(err error) {
			if err != nil {
				logger.Warn("brickd proxy stopped", "error", err)
				p.notify(false)
			}
		},
		OnRestart: func(attempt int) {
			if err := p.checkBrickd(); err != nil {
				logger.Warn("brickd unreachable before proxy restart", "attempt", attempt, "error", err)
			}
		},
		OnRelaunch: func(int) { p.scheduleRunning() },
	}
	p.manager = NewManager(cfg)
	p.manager.SetLogger(logger)
	return p
}

// BuildProxyArgs returns the tinkerforge_mqtt command line for the given settings.
func BuildProxyArgs(proxy config.ProxyConfig, mqtt config.MQTTConfig, topicPrefix string) []string {
	args := []string{
		"--ipcon-host", proxy.BrickdHost,
		"--ipcon-port", strconv.Itoa(proxy.BrickdPort),
		"--broker-host", mqtt.Broker.Host,
		"--broker-port", strconv.Itoa(mqtt.Broker.Port),
	}
	if topicPrefix != "" {
		args = append(args, "--global-topic-prefix", topicPrefix)
	}
	if mqtt.Auth.Username != "" {
		args = append(args, "--broker-username", mqtt.Auth.Username)
	}
	if mqtt.Auth.Password != "" {
		args = append(args, "--broker-password", mqtt.Auth.Password)
	}
	return append(args, proxy.ExtraArgs...)
}

// Managed reports whether this service owns the proxy process.
func (p *Proxy) Managed() bool { return p.manager != nil }

// Start launches the proxy. An unreachable brickd is logged but not fatal,
// since the proxy itself reconnects.
func (p *Proxy) Start(ctx context.Context) error {
	if p.manager == nil {
		p.logger.Info("brickd proxy not managed, expecting external tinkerforge_mqtt")
		return nil
	}

	if err := p.checkBrickd(); err != nil {
		p.logger.Warn("brickd not reachable yet", "error", err)
	}

	if err := p.manager.Start(ctx); err != nil {
		return fmt.Errorf("starting brickd proxy: %w", err)
	}
	return nil
}

// SetOnRunningChange sets fn to be told when the proxy dies unexpectedly
// and when a relaunched proxy has had time to settle. Devices behind a
// dead proxy are gone and a relaunched one has forgotten every
// registration, so listeners re-enumerate on true.
func (p *Proxy) SetOnRunningChange(fn func(running bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

func (p *Proxy) scheduleRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.settling != nil {
		p.settling.Stop()
	}
	p.settling = time.AfterFunc(p.settle, func() { p.notify(true) })
}

func (p *Proxy) notify(running bool) {
	p.mu.Lock()
	fn := p.onChange
	stopped := p.stopped
	if !running && p.settling != nil {
		p.settling.Stop()
		p.settling = nil
	}
	p.mu.Unlock()

	if fn == nil || stopped {
		return
	}
	fn(running)
}

// Stop terminates the proxy process.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	p.stopped = true
	if p.settling != nil {
		p.settling.Stop()
		p.settling = nil
	}
	p.mu.Unlock()

	if p.manager == nil {
		return nil
	}
	return p.manager.Stop()
}

// Stats returns process statistics and whether the proxy is managed.
func (p *Proxy) Stats() (Stats, bool) {
	if p.manager == nil {
		return Stats{}, false
	}
	return p.manager.Stats(), true
}

// checkBrickd dials the brickd TCP port.
func (p *Proxy) checkBrickd() error {
	addr := net.JoinHostPort(p.opts.Proxy.BrickdHost, strconv.Itoa(p.opts.Proxy.BrickdPort))
	conn, err := net.DialTimeout("tcp", addr, brickdDialTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
