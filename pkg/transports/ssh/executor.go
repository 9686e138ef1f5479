package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/clientrb/pkg/converge"
)

// Run executes argv on the remote host and returns combined output. A
// non-zero exit is returned as *converge.CommandError; connection problems
// are returned as *TransportError.
func (c *Client) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := commandLine(name, args)
	if c.config.Sudo {
		cmd = "sudo -n " + cmd
	}

	if c.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	start := time.Now()
	log.Debug().Str("command", cmd).Msg("executing command")

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		execErr = ctx.Err()
	case execErr = <-done:
	}

	log.Debug().
		Str("command", cmd).
		Int("output_len", out.Len()).
		Dur("duration", time.Since(start)).
		Err(execErr).
		Msg("command completed")

	if execErr == nil {
		return out.Bytes(), nil
	}

	var exitErr *ssh.ExitError
	if errors.As(execErr, &exitErr) {
		return out.Bytes(), &converge.CommandError{
			Command:  cmd,
			ExitCode: exitErr.ExitStatus(),
			Output:   out.String(),
		}
	}
	return out.Bytes(), &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
}

// commandLine quotes argv for the remote POSIX shell.
func commandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote leaves plain words alone and single-quotes everything else.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
