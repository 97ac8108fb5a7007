// Package tlsutil builds server TLS configurations for the HTTP listener.
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Load reads a PEM certificate and key pair.
func Load(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigInvalid, "load TLS key pair %s", certFile).Err()
	}
	return serverConfig(cert), nil
}

// SelfSigned returns a configuration with a fresh certificate for localhost
// and the given extra hosts, valid for one year.
func SelfSigned(hosts ...string) (*tls.Config, error) {
	certPEM, keyPEM, err := generate(hosts)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "parse generated key pair").Err()
	}
	return serverConfig(cert), nil
}

// WriteSelfSigned generates a certificate as SelfSigned does and writes it
// to dir as server.crt and server.key.
func WriteSelfSigned(dir string, hosts ...string) (certFile, keyFile string, err error) {
	certPEM, keyPEM, err := generate(hosts)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigInvalid, "create %s", dir).Err()
	}
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return "", "", bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "write certificate").Err()
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return "", "", bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "write key").Err()
	}
	return certFile, keyFile, nil
}

func serverConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

func generate(hosts []string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "generate private key").Err()
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "generate serial number").Err()
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"sqlbridge"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		DNSNames:              []string{"localhost"},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "create certificate").Err()
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeInternal, "marshal private key").Err()
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
