// Package ssh runs commands on build VMs over SSH.
package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Communicator executes commands on a remote host. It establishes the
// connection per call so a VM that is still booting can be polled.
type Communicator interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Client is an SSH Communicator authenticating with a private key.
type Client struct {
	host       string
	port       int
	user       string
	signer     ssh.Signer
	dialWait   time.Duration
	dialTries  int
	cmdTimeout time.Duration
}

// NewClient parses the private key up front so a malformed key fails
// fast rather than on the first poll attempt.
func NewClient(host, user string, privateKey []byte) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("ssh client: host is required")
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("ssh client: parse private key: %w", err)
	}
	return &Client{
		host:       host,
		port:       22,
		user:       user,
		signer:     signer,
		dialWait:   5 * time.Second,
		dialTries:  3,
		cmdTimeout: 10 * time.Second,
	}, nil
}

// Execute runs a single command and returns its combined output. Dial
// failures are retried a few times; command failures are not, so the
// caller's poll loop stays in charge of pacing.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cmdTimeout,
	}
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))

	var client *ssh.Client
	var err error
	for attempt := 0; attempt < c.dialTries; attempt++ {
		client, err = ssh.Dial("tcp", addr, config)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.dialWait):
		}
	}
	if client == nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session on %s: %w", addr, err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(command)
	if err != nil {
		return string(output), fmt.Errorf("run %q on %s: %w", command, addr, err)
	}
	return string(output), nil
}
