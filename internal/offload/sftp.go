package offload

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/TheGojiOG/servervisor/internal/config"
)

// SFTPDestination stores files on a remote host over SFTP. The connection is
// opened on first use and reopened after a failure.
type SFTPDestination struct {
	cfg      config.SFTPConfig
	basePath string

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination creates a new SFTP destination
func NewSFTPDestination(cfg config.SFTPConfig, basePath string) *SFTPDestination {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SFTPDestination{cfg: cfg, basePath: basePath}
}

func (sd *SFTPDestination) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := NewHostKeyCallback(sd.cfg.KnownHostsPath, sd.cfg.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            sd.cfg.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	switch {
	case sd.cfg.KeyPath != "":
		keyData, err := os.ReadFile(sd.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		var signer ssh.Signer
		if sd.cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(sd.cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		clientConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case sd.cfg.Password != "":
		clientConfig.Auth = []ssh.AuthMethod{ssh.Password(sd.cfg.Password)}
	default:
		return nil, fmt.Errorf("no authentication method provided for SFTP")
	}

	return clientConfig, nil
}

// client returns a connected SFTP client. Callers hold sd.mu.
func (sd *SFTPDestination) client() (*sftp.Client, error) {
	if sd.sftpClient != nil {
		return sd.sftpClient, nil
	}

	clientConfig, err := sd.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(sd.cfg.Host, strconv.Itoa(sd.cfg.Port))
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	sshClient, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	sd.sshClient = sshClient
	sd.sftpClient = sftpClient
	log.Printf("[SFTPDest] Connected successfully")
	return sftpClient, nil
}

// reset drops the connection so the next call reconnects. Callers hold sd.mu.
func (sd *SFTPDestination) reset() {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
		sd.sftpClient = nil
	}
	if sd.sshClient != nil {
		sd.sshClient.Close()
		sd.sshClient = nil
	}
}

func (sd *SFTPDestination) remotePath(name string) string {
	return path.Join(sd.basePath, name)
}

// Upload writes r to name, removing partial files on failure
func (sd *SFTPDestination) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()

	client, err := sd.client()
	if err != nil {
		return err
	}

	destPath := sd.remotePath(name)
	if err := client.MkdirAll(path.Dir(destPath)); err != nil {
		sd.reset()
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	file, err := client.Create(destPath)
	if err != nil {
		sd.reset()
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := io.Copy(file, r)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		client.Remove(destPath)
		sd.reset()
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if size >= 0 && written != size {
		client.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", size, written)
	}

	log.Printf("[SFTPDest] Stored %s (%d bytes)", destPath, written)
	return nil
}

// List returns every file below the base path
func (sd *SFTPDestination) List(ctx context.Context) ([]RemoteFile, error) {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	client, err := sd.client()
	if err != nil {
		return nil, err
	}

	root := path.Clean(sd.basePath)
	var files []RemoteFile
	walker := client.Walk(root)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) && walker.Path() == root {
				return nil, nil
			}
			sd.reset()
			return nil, fmt.Errorf("failed to read remote directory: %w", err)
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		files = append(files, RemoteFile{
			Name:      strings.TrimPrefix(strings.TrimPrefix(walker.Path(), root), "/"),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return files, nil
}

// Delete removes name from the remote host
func (sd *SFTPDestination) Delete(_ context.Context, name string) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()

	client, err := sd.client()
	if err != nil {
		return err
	}
	if err := client.Remove(sd.remotePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

func (sd *SFTPDestination) Type() string { return "sftp" }

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.reset()
	return nil
}
