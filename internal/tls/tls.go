// Package tls builds the server-side TLS configuration of the status endpoint.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"

	defaultValidity = 365 * 24 * time.Hour
)

// Config selects the certificate. Explicit files win over Dir; with
// AutoGenerate a self-signed pair is written to Dir when none exists.
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	Dir          string `mapstructure:"dir"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	MinVersion   string `mapstructure:"min_version"` // 1.2 or 1.3 (default)
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch strings.ToLower(ver) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader reloads the pair on every handshake so rotated files are picked up.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Setup returns nil when TLS is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case cfg.Dir != "":
		certPath = filepath.Join(cfg.Dir, tlsCrt)
		keyPath = filepath.Join(cfg.Dir, tlsKey)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := GenerateSelfSignedCert(CertConfig{
				CommonName:   "localhost",
				Organization: "svchecks",
				DNSNames:     []string{"localhost"},
				IPAddresses:  []string{"127.0.0.1", "::1"},
				NotAfter:     time.Now().Add(defaultValidity),
				CertPath:     certPath,
				KeyPath:      keyPath,
				CACertPath:   filepath.Join(cfg.Dir, tlsCaCrt),
			}); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
	}
	if !certificatesExist(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}

	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
