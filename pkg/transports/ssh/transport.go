// Package ssh provides the remote converge target: files over SFTP and
// commands over SSH sessions.
package ssh

import (
	"context"
	"fmt"

	"github.com/openfroyo/clientrb/pkg/converge"
)

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// RemoteTarget is a converge.Target on a host reached over SSH.
type RemoteTarget struct {
	*Client
}

var _ converge.Target = (*RemoteTarget)(nil)

// Dial connects to the host described by config.
func Dial(ctx context.Context, config *Config) (*RemoteTarget, error) {
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return &RemoteTarget{Client: client}, nil
}

// Name implements converge.Target.
func (t *RemoteTarget) Name() string {
	return fmt.Sprintf("ssh:%s@%s", t.config.User, t.config.Address())
}
