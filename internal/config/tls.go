package config

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Certificate loading errors.
const (
	// ErrNoCertificates is returned when the certificate file contains no
	// PEM-encoded certificates.
	ErrNoCertificates errors.Error = "no certificates found"

	// ErrNoPrivateKey is returned when the key file contains no RSA or PKCS8
	// private key.
	ErrNoPrivateKey errors.Error = "no private key found"

	// ErrEncryptedKey is returned when the key file contains an encrypted
	// private key, those are not supported.
	ErrEncryptedKey errors.Error = "encrypted private keys are not supported"
)

// PEM block types of the supported private keys.
const (
	pemTypeCertificate  = "CERTIFICATE"
	pemTypeRSAKey       = "RSA PRIVATE KEY"
	pemTypePKCS8Key     = "PRIVATE KEY"
	pemTypeEncryptedKey = "ENCRYPTED PRIVATE KEY"
)

// LoadCertificate reads the PEM-encoded certificate chain from certFile and
// the PEM-encoded unencrypted RSA or PKCS8 private key from keyFile.  The
// certificate file may contain intermediate certificates following the leaf
// certificate to form a certificate chain.  On successful return,
// Certificate.Leaf will be nil because the parsed form of the certificate is
// not retained.
func LoadCertificate(certFile, keyFile string) (crt tls.Certificate, err error) {
	// #nosec G304 -- Trust the file path that is given in the configuration.
	certPEMBlock, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading certificate: %w", err)
	}

	// #nosec G304 -- Trust the file path that is given in the configuration.
	keyPEMBlock, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading private key: %w", err)
	}

	chain, err := certChainPEM(certPEMBlock)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", certFile, err)
	}

	key, err := privateKeyPEM(keyPEMBlock)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%s: %w", keyFile, err)
	}

	crt, err = tls.X509KeyPair(chain, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing key pair: %w", err)
	}

	return crt, nil
}

// certChainPEM returns the PEM encoding of the certificates found in data in
// the order they appear.  Blocks of other types are skipped.
func certChainPEM(data []byte) (chain []byte, err error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		if block.Type == pemTypeCertificate {
			chain = append(chain, pem.EncodeToMemory(block)...)
		}
	}

	if len(chain) == 0 {
		return nil, ErrNoCertificates
	}

	return chain, nil
}

// privateKeyPEM returns the PEM encoding of the first RSA or PKCS8 private key
// found in data.
func privateKeyPEM(data []byte) (key []byte, err error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPrivateKey
		}

		switch block.Type {
		case pemTypeEncryptedKey:
			return nil, ErrEncryptedKey
		case pemTypeRSAKey, pemTypePKCS8Key:
			if strings.Contains(block.Headers["Proc-Type"], "ENCRYPTED") {
				return nil, ErrEncryptedKey
			}

			return pem.EncodeToMemory(block), nil
		default:
			// Go on.
		}
	}
}
