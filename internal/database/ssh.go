package database

import (
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SetupTunnel establishes an SSH tunnel and returns a connection string that
// points at its local end
func SetupTunnel(config Config, logger *zap.Logger) (string, func(), error) {
	key, err := os.ReadFile(config.SSHKey)
	if err != nil {
		return "", nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return "", nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User: config.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	sshAddr := fmt.Sprintf("%s:%d", config.SSHHost, config.SSHPort)
	sshClient, err := ssh.Dial("tcp", sshAddr, sshConfig)
	if err != nil {
		return "", nil, fmt.Errorf("unable to connect to SSH server: %w", err)
	}

	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		sshClient.Close()
		return "", nil, fmt.Errorf("unable to setup local listener: %w", err)
	}

	localPort := listener.Addr().(*net.TCPAddr).Port
	remoteAddr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	logger.Debug("ssh tunnel ready",
		zap.String("ssh", sshAddr),
		zap.String("remote", remoteAddr),
		zap.Int("local_port", localPort))

	go func() {
		for {
			localConn, err := listener.Accept()
			if err != nil {
				logger.Debug("tunnel listener stopped", zap.Error(err))
				return
			}

			remoteConn, err := sshClient.Dial("tcp", remoteAddr)
			if err != nil {
				logger.Error("error dialing remote server", zap.String("remote", remoteAddr), zap.Error(err))
				localConn.Close()
				return
			}

			go copyConn(localConn, remoteConn, logger)
			go copyConn(remoteConn, localConn, logger)
		}
	}()

	connStr := connectionString("localhost", localPort, config)

	cleanup := func() {
		listener.Close()
		sshClient.Close()
	}

	return connStr, cleanup, nil
}

func copyConn(dst, src net.Conn, logger *zap.Logger) {
	defer dst.Close()
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		logger.Debug("tunnel copy ended", zap.Error(err))
	}
}
