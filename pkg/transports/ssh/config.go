package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds SSH connection settings for a remote converge target.
type Config struct {
	// Host is the remote hostname or IP address
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port (default: 22)
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// User is the SSH username
	User string `yaml:"user" validate:"required"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `yaml:"auth_method" validate:"oneof=password key agent"`

	// Password for password-based authentication
	Password string `yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `yaml:"private_key_passphrase,omitempty"`

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// When false, any host key is accepted.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// CommandTimeout bounds every remote command
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// KeepAliveInterval is the interval for sending keep-alive messages.
	// Set to 0 to disable keep-alive
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// MaxKeepAliveRetries is the maximum number of keep-alive failures before giving up
	MaxKeepAliveRetries int `yaml:"max_keep_alive_retries"`

	// Sudo prefixes commands with "sudo -n" and runs the SFTP server
	// through sudo, for logins that are not root.
	Sudo bool `yaml:"sudo"`

	// SFTPServerPath is the sftp-server binary used when Sudo is set.
	SFTPServerPath string `yaml:"sftp_server_path,omitempty"`

	// ProxyHost is the hostname of a jump host (optional)
	ProxyHost string `yaml:"proxy_host,omitempty"`

	// ProxyPort is the port of the jump host
	ProxyPort int `yaml:"proxy_port,omitempty"`

	// ProxyUser is the username for the jump host
	ProxyUser string `yaml:"proxy_user,omitempty"`
}

// DefaultSFTPServerPath is where most distributions install sftp-server.
const DefaultSFTPServerPath = "/usr/lib/openssh/sftp-server"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		MaxKeepAliveRetries:   3,
		SFTPServerPath:        DefaultSFTPServerPath,
		ProxyPort:             22,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			defaultKeys := []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			}
			for _, keyPath := range defaultKeys {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return fmt.Errorf("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.Sudo && c.SFTPServerPath == "" {
		return fmt.Errorf("sftp server path is required when sudo is enabled")
	}

	if c.ProxyHost != "" {
		if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
			return fmt.Errorf("invalid proxy port: %d", c.ProxyPort)
		}
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for passwords.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if c.KnownHostsPath == "" {
		return nil, fmt.Errorf("known_hosts path is required with strict host key checking")
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress returns the jump host address, or "".
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

// proxyConfig derives the jump host settings; credentials are shared with
// the target.
func (c *Config) proxyConfig() *Config {
	p := *c
	p.Host = c.ProxyHost
	p.Port = c.ProxyPort
	if c.ProxyUser != "" {
		p.User = c.ProxyUser
	}
	p.ProxyHost = ""
	return &p
}
