package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a single SSH connection with a lazily opened SFTP session.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	proxy       *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stopKeep    chan struct{}
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection. Calling Connect on a live
// connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	if c.config.ProxyHost != "" {
		err = c.connectViaProxy(ctx, clientConfig)
	} else {
		err = c.connectDirect(ctx, clientConfig)
	}
	if err != nil {
		return err
	}

	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt
	if c.config.KeepAliveInterval > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeep)
	}
	return nil
}

func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	client, err := dialContext(ctx, address, clientConfig)
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}
	c.client = client
	log.Info().Str("address", address).Msg("SSH connection established")
	return nil
}

func (c *Client) connectViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	proxyConfig := c.config.proxyConfig()
	proxyClientConfig, err := proxyConfig.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect-proxy", Err: err, IsAuthError: true}
	}

	log.Debug().Str("proxy", proxyConfig.Address()).Msg("connecting to proxy host")
	proxyClient, err := dialContext(ctx, proxyConfig.Address(), proxyClientConfig)
	if err != nil {
		return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	targetAddress := c.config.Address()
	conn, err := proxyClient.Dial("tcp", targetAddress)
	if err != nil {
		_ = proxyClient.Close()
		return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, targetAddress, targetConfig)
	if err != nil {
		_ = conn.Close()
		_ = proxyClient.Close()
		return &TransportError{Op: "connect-via-proxy", Err: err, IsAuthError: true}
	}

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.proxy = proxyClient
	log.Info().Str("target", targetAddress).Str("proxy", proxyConfig.Address()).Msg("SSH connection established via proxy")
	return nil
}

// dialContext dials in a goroutine so ctx can abandon a hanging handshake.
func dialContext(ctx context.Context, address string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, cfg)
		ch <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}

// Close releases the SFTP session and the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.client == nil {
		return nil
	}
	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")
	if err := c.closeLocked(); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	if c.sftp != nil {
		_ = c.sftp.Close()
		c.sftp = nil
	}
	err := c.client.Close()
	c.client = nil
	if c.proxy != nil {
		_ = c.proxy.Close()
		c.proxy = nil
	}
	return err
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client != nil
}

// HealthCheck runs "true" on the remote host.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.client == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()
	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Str("host", c.config.Host).Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
		c.connMu.Lock()
		c.lastUsedAt = time.Now()
		c.connMu.Unlock()
	}
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Info returns information about the current connection.
func (c *Client) Info() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.client == nil {
		return nil, &TransportError{Op: "get-client", Err: fmt.Errorf("not connected")}
	}
	c.lastUsedAt = time.Now()
	return c.client, nil
}
