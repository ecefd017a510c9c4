// Package sftpclient moves roster exports and audit reports over SFTP.
package sftpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// MaxDownloadBytes caps a single download.
const MaxDownloadBytes = 512 << 20

var ErrTooLarge = errors.New("sftp: remote file exceeds download limit")

type Config struct {
	Host                  string
	Port                  int
	User                  string
	Pass                  string
	RemoteDir             string
	InsecureIgnoreHostKey bool
	// KnownHosts is an OpenSSH known_hosts file used to verify the server.
	KnownHosts string
}

func (cfg Config) withDefaults() Config {
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	return cfg
}

func (cfg Config) remotePath(name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	return path.Join(cfg.RemoteDir, name)
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHosts == "" {
		return nil, errors.New("sftp: host key not verifiable: set SFTP_KNOWN_HOSTS or SFTP_INSECURE_IGNORE_HOSTKEY")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("sftp: known_hosts: %w", err)
	}
	return cb, nil
}

type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() {
	s.sftp.Close()
	s.ssh.Close()
}

func connect(ctx context.Context, cfg Config) (*session, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return nil, fmt.Errorf("sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS")
	}

	cb, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Pass)},
		HostKeyCallback: cb,
		Timeout:         20 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// ctx para timeout/cancel
	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			// the dial may still complete; don't leak the connection
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, fmt.Errorf("sftp: dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("sftp: dial error: %w", r.err)
		}
		sshClient = r.client
	}

	sftpCli, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp: new client: %w", err)
	}
	return &session{ssh: sshClient, sftp: sftpCli}, nil
}

// UploadFile copies localPath to RemoteDir/remoteFileName, creating the
// directory when needed.
func UploadFile(ctx context.Context, cfg Config, localPath string, remoteFileName string) error {
	cfg = cfg.withDefaults()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftp: open local file: %w", err)
	}
	defer src.Close()

	s, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// Asegura dir destino
	if err := s.sftp.MkdirAll(cfg.RemoteDir); err != nil {
		return fmt.Errorf("sftp: mkdir %s: %w", cfg.RemoteDir, err)
	}

	remotePath := cfg.remotePath(remoteFileName)
	dst, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftp: create remote file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("sftp: upload copy: %w", err)
	}
	return nil
}

// DownloadFile reads remoteName (relative to RemoteDir unless absolute).
func DownloadFile(ctx context.Context, cfg Config, remoteName string) ([]byte, error) {
	cfg = cfg.withDefaults()

	s, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	remotePath := cfg.remotePath(remoteName)
	f, err := s.sftp.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("sftp: open %s: %w", remotePath, err)
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("sftp: download %s: %w", remotePath, err)
	}
	if len(b) > MaxDownloadBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}
