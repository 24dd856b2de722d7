// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/kspethernetio/kspeth/internal/config"
	"github.com/kspethernetio/kspeth/internal/transport"
	"golang.org/x/term"
)

// passwordEnv holds the WebSocket bridge password when set
const passwordEnv = "KSPETH_PASSWORD"

// GetPassword retrieves password from environment variable or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// newDialer builds the stream dialer selected by the configuration. The
// password prompt happens here, before any terminal UI takes over.
func newDialer(cfg *config.Config) (transport.Dialer, error) {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportWebSocket:
		password := ""
		if t.WSUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return &transport.WebSocketDialer{
			Path:          t.WSPath,
			Secure:        t.WSSecure,
			Username:      t.WSUsername,
			Password:      password,
			SkipSSLVerify: t.WSNoSSLVerify,
		}, nil

	case config.TransportSerial:
		return &transport.SerialDialer{
			PortName: t.SerialPort,
			BaudRate: t.Baud,
		}, nil

	case config.TransportTCP, "":
		return transport.TCPDialer{}, nil

	default:
		return nil, fmt.Errorf("unknown transport: %s", t.Kind)
	}
}

// connectionInfo describes the configured transport for status lines.
func connectionInfo(cfg *config.Config) string {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportWebSocket:
		scheme := "ws"
		if t.WSSecure {
			scheme = "wss"
		}
		return fmt.Sprintf("%s://<host>:%d%s", scheme, cfg.Client.Port, t.WSPath)
	case config.TransportSerial:
		return fmt.Sprintf("%s @ %d baud", t.SerialPort, t.Baud)
	default:
		return fmt.Sprintf("tcp/%d", cfg.Client.Port)
	}
}
