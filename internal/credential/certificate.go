package credential

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Certificate is a decoded client certificate ready for TLS
type Certificate struct {
	Ref         string
	TLS         tls.Certificate
	Leaf        *x509.Certificate
	Fingerprint string
}

// Subject returns the leaf subject common name
func (c *Certificate) Subject() string {
	if c.Leaf == nil {
		return ""
	}
	return c.Leaf.Subject.CommonName
}

// ValidAt checks the certificate validity window
func (c *Certificate) ValidAt(now time.Time) error {
	if now.Before(c.Leaf.NotBefore) {
		return ErrCertNotYetValid(c.Ref, c.Subject())
	}
	if now.After(c.Leaf.NotAfter) {
		return ErrCertExpired(c.Ref, c.Subject())
	}
	return nil
}

// ReadCertificate reads and decodes the file a credential points at.
// PEM files (certificate and key blocks) and PKCS#12 bundles (.pfx/.p12)
// are supported.
func ReadCertificate(c Credential) (*Certificate, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewCredentialError(ErrCodeNotFound, c.Ref, fmt.Sprintf("certificate file not found: %s", c.Path), err)
		}
		return nil, NewCredentialError(ErrCodeUnreadable, c.Ref, fmt.Sprintf("certificate file unreadable: %s", c.Path), err)
	}
	if len(data) == 0 {
		return nil, NewCredentialError(ErrCodeUnreadable, c.Ref, "certificate file is empty", nil)
	}

	var blocks []*pem.Block
	if isPEM(c.Path, data) {
		blocks = decodePEMBlocks(data)
	} else {
		blocks, err = decodePKCS12(data, c.Passphrase)
		if err != nil {
			return nil, NewCredentialError(ErrCodeDecode, c.Ref, "failed to decode PKCS#12 bundle", err)
		}
	}

	cert, err := pairBlocks(c.Ref, blocks)
	if err != nil {
		return nil, err
	}
	cert.Ref = c.Ref
	return cert, nil
}

func isPEM(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfx", ".p12":
		return false
	}
	return bytes.Contains(data, []byte("-----BEGIN"))
}

// decodePKCS12 accepts both legacy (RC2/3DES) bundles and the PBES2/AES
// bundles OpenSSL 3 writes by default
func decodePKCS12(data []byte, passphrase string) ([]*pem.Block, error) {
	key, leaf, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	blocks := []*pem.Block{
		{Type: "PRIVATE KEY", Bytes: keyDER},
		{Type: "CERTIFICATE", Bytes: leaf.Raw},
	}
	for _, ca := range chain {
		blocks = append(blocks, &pem.Block{Type: "CERTIFICATE", Bytes: ca.Raw})
	}
	return blocks, nil
}

func decodePEMBlocks(data []byte) []*pem.Block {
	var blocks []*pem.Block
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		blocks = append(blocks, block)
		data = rest
	}
	return blocks
}

// pairBlocks finds the certificate matching the private key. PKCS#12 bundles
// from certification authorities often carry the chain in arbitrary order.
func pairBlocks(ref string, blocks []*pem.Block) (*Certificate, error) {
	var keyPEM []byte
	var certs []*pem.Block
	for _, b := range blocks {
		switch {
		case b.Type == "CERTIFICATE":
			certs = append(certs, b)
		case strings.HasSuffix(b.Type, "PRIVATE KEY") && keyPEM == nil:
			keyPEM = pem.EncodeToMemory(b)
		}
	}
	if keyPEM == nil {
		return nil, NewCredentialError(ErrCodeNoKey, ref, "no private key in certificate file", nil)
	}
	if len(certs) == 0 {
		return nil, NewCredentialError(ErrCodeDecode, ref, "no certificate in certificate file", nil)
	}

	var lastErr error
	for i, leaf := range certs {
		chain := []*pem.Block{leaf}
		for j, other := range certs {
			if j != i {
				chain = append(chain, other)
			}
		}

		var certPEM []byte
		for _, b := range chain {
			certPEM = append(certPEM, pem.EncodeToMemory(b)...)
		}

		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			lastErr = err
			continue
		}

		parsed, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, NewCredentialError(ErrCodeDecode, ref, "failed to parse certificate", err)
		}
		pair.Leaf = parsed

		sum := sha256.Sum256(parsed.Raw)
		return &Certificate{
			TLS:         pair,
			Leaf:        parsed,
			Fingerprint: hex.EncodeToString(sum[:]),
		}, nil
	}

	return nil, NewCredentialError(ErrCodeDecode, ref, "private key does not match any certificate", lastErr)
}
