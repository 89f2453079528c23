// Package certs loads client authentication material — a PEM
// certificate/key pair or a PKCS#12 bundle — and builds the
// *tls.Config the CSTP and DTLS channels authenticate with. Grounded on
// the teacher's use of golang.org/x/crypto for cryptographic primitives,
// redirected here to certificate-bundle loading, its pkcs12 sub-package.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Options selects how client credentials are loaded. Exactly one of
// (CertPath+KeyPath) or PKCS12Path should be set; PKCS12 takes
// precedence if both are.
type Options struct {
	CertPath string
	KeyPath  string

	PKCS12Path     string
	PKCS12Password string

	CAPath             string
	InsecureSkipVerify bool
	ServerName         string
}

// Build loads the configured credentials and returns a ready-to-use TLS
// client config.
func Build(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	switch {
	case opts.PKCS12Path != "":
		cert, err := loadPKCS12(opts.PKCS12Path, opts.PKCS12Password)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	case opts.CertPath != "" && opts.KeyPath != "":
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("certs: loading client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opts.CAPath != "" {
		pool, err := loadCAPool(opts.CAPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: reading PKCS#12 bundle %s: %w", path, err)
	}
	key, leaf, caCerts, err := pkcs12.DecodeChain(raw, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certs: decoding PKCS#12 bundle %s: %w", path, err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range caCerts {
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}
	return cert, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certs: reading CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("certs: no valid certificates found in %s", path)
	}
	return pool, nil
}
