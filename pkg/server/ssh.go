package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const sshServerVersion = "SSH-2.0-linechat"

// startSSHServer starts the SSH server on the configured port.
//
// SSH only carries the line protocol: clients are admitted without SSH
// authentication and log in with the usual username/password prompts inside
// the session channel, so lockouts apply the same way as on TCP.
func (s *Server) startSSHServer() error {
	if s.config.SSHPort <= 0 {
		log.Printf("SSH server disabled (ssh_port=%d)", s.config.SSHPort)
		return nil
	}

	hostKey, err := loadOrGenerateHostKey(s.config.SSHHostKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.SSHPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.sshListener = listener

	log.Printf("SSH server listening on %s", addr)

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, newSSHConfig(hostKey))

	return nil
}

func newSSHConfig(hostKey ssh.Signer) *ssh.ServerConfig {
	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: sshServerVersion,
	}
	config.AddHostKey(hostKey)
	return config
}

// acceptSSHLoop accepts incoming SSH connections
func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("SSH accept error: %v", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleSSHConnection(conn, config)
	}
}

// handleSSHConnection handles a single SSH connection. Every session
// channel on it is an independent chat connection.
func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	defer s.untrack(conn)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		debugLog.Printf("SSH handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()
	conn.SetDeadline(time.Time{})

	// Discard global out-of-band requests
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			errorLog.Printf("Could not accept channel: %v", err)
			continue
		}

		go acceptSessionRequests(requests)

		// Lockouts key on the SSH client's address, not the channel's
		chConn := &sshChannelConn{Channel: channel, local: sshConn.LocalAddr(), remote: sshConn.RemoteAddr()}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(NewSafeConn(chConn, s.config.MaxLineLength, 0), "ssh")
		}()
	}
}

// acceptSessionRequests agrees to the requests interactive clients send
// before they start typing and refuses everything else (exec, subsystems)
func acceptSessionRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		ok := false
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			ok = true
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// sshChannelConn presents a session channel as a net.Conn for SafeConn.
// Deadlines are not supported on channels and are ignored.
type sshChannelConn struct {
	ssh.Channel
	local, remote net.Addr
}

func (c *sshChannelConn) LocalAddr() net.Addr                { return c.local }
func (c *sshChannelConn) RemoteAddr() net.Addr               { return c.remote }
func (c *sshChannelConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshChannelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshChannelConn) SetWriteDeadline(t time.Time) error { return nil }

// loadOrGenerateHostKey reads the PEM host key at path, creating an
// ed25519 key there on first start
func loadOrGenerateHostKey(path string) (ssh.Signer, error) {
	keyPath, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("ssh host key path is empty; set [server].ssh_host_key or remove it to use the default (%s)", DefaultConfig().SSHHostKeyPath)
	}

	keyBytes, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key %s: %w", keyPath, err)
		}
		log.Printf("Loaded SSH host key from %s", keyPath)
		return signer, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(privateKey, "linechat host key")
	if err != nil {
		return nil, fmt.Errorf("failed to encode host key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to use generated host key: %w", err)
	}
	log.Printf("Generated new SSH host key at %s (%s)", keyPath, ssh.FingerprintSHA256(signer.PublicKey()))
	return signer, nil
}
