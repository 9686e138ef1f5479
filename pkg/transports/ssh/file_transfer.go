package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// sftpClient returns the cached SFTP session, opening it on first use. With
// Sudo set, sftp-server is started through sudo on an exec channel instead of
// the sftp subsystem.
func (c *Client) sftpClient() (*sftp.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	var (
		client *sftp.Client
		err    error
	)
	if c.config.Sudo {
		client, err = c.sudoSFTP()
	} else {
		client, err = sftp.NewClient(c.client)
	}
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	c.sftp = client
	return client, nil
}

func (c *Client) sudoSFTP() (*sftp.Client, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Start("sudo -n " + shellQuote(c.config.SFTPServerPath)); err != nil {
		session.Close()
		return nil, err
	}
	return sftp.NewClientPipe(stdout, stdin)
}

// Stat returns file info for a remote path.
func (c *Client) Stat(_ context.Context, p string) (fs.FileInfo, error) {
	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(p)
	if err != nil {
		return nil, normalizeNotExist("stat", p, err)
	}
	return info, nil
}

// ReadFile returns the content of a remote file.
func (c *Client) ReadFile(ctx context.Context, p string) ([]byte, error) {
	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(p)
	if err != nil {
		return nil, normalizeNotExist("open", p, err)
	}
	defer f.Close()

	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, &TransportError{Op: "read", Err: err, IsTemporary: true}
		}
	}
}

// WriteFile uploads data to a temporary file next to p and renames it into
// place.
func (c *Client) WriteFile(ctx context.Context, p string, data []byte, mode os.FileMode) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(p)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	tmp := path.Join(path.Dir(p), "."+path.Base(p)+".clientrb-tmp")
	f, err := client.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		f.Close()
		_ = client.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = client.Remove(tmp)
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := client.Chmod(tmp, mode); err != nil {
		_ = client.Remove(tmp)
		return fmt.Errorf("failed to set mode: %w", err)
	}

	if err := client.PosixRename(tmp, p); err != nil {
		// Servers without the posix-rename extension refuse to overwrite.
		log.Debug().Err(err).Str("path", p).Msg("posix rename failed, falling back to remove and rename")
		_ = client.Remove(p)
		if err := client.Rename(tmp, p); err != nil {
			_ = client.Remove(tmp)
			return fmt.Errorf("failed to rename remote file: %w", err)
		}
	}
	return nil
}

// MkdirAll creates a remote directory and its parents. SFTP mkdir takes no
// mode, so permission bits follow the remote umask.
func (c *Client) MkdirAll(_ context.Context, p string, _ os.FileMode) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.MkdirAll(p)
}

// Chmod sets remote permission bits.
func (c *Client) Chmod(_ context.Context, p string, mode os.FileMode) error {
	client, err := c.sftpClient()
	if err != nil {
		return err
	}
	return client.Chmod(p, mode)
}

// normalizeNotExist maps the SFTP "no such file" status to fs.ErrNotExist.
func normalizeNotExist(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var status *sftp.StatusError
	if errors.As(err, &status) && status.Code == uint32(sftp.ErrSSHFxNoSuchFile) {
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	}
	return err
}
