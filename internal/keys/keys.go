// Package keys loads the RSA key pair used to sign and verify tokens.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"userboard.io/internal/apperr"
)

// Material is an immutable RSA key pair. Safe for concurrent use.
type Material struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	kid     string
}

// New validates that priv and pub belong together.
func New(priv *rsa.PrivateKey, pub *rsa.PublicKey) (*Material, error) {
	if priv == nil || pub == nil {
		return nil, configErr("both private and public keys are required")
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, configErr("private and public keys do not match")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: encode public key: %v", apperr.ErrConfiguration, err)
	}
	sum := sha256.Sum256(der)
	return &Material{
		private: priv,
		public:  pub,
		kid:     base64.RawURLEncoding.EncodeToString(sum[:12]),
	}, nil
}

// Parse builds Material from PEM-encoded keys.
func Parse(privatePEM, publicPEM []byte) (*Material, error) {
	priv, err := parseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", apperr.ErrConfiguration, err)
	}
	pub, err := parseRSAPublicKey(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", apperr.ErrConfiguration, err)
	}
	return New(priv, pub)
}

// Load reads both PEM files from disk.
func Load(privatePath, publicPath string) (*Material, error) {
	privatePath = strings.TrimSpace(privatePath)
	publicPath = strings.TrimSpace(publicPath)
	if privatePath == "" || publicPath == "" {
		return nil, configErr("both private and public key paths are required")
	}
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read private key: %v", apperr.ErrConfiguration, err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", apperr.ErrConfiguration, err)
	}
	return Parse(privPEM, pubPEM)
}

// Generate creates a fresh key pair. Used by the keygen command and tests.
func Generate(bits int) (*Material, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return New(priv, &priv.PublicKey)
}

// Signer returns the private key.
func (m *Material) Signer() *rsa.PrivateKey { return m.private }

// Verifier returns the public key.
func (m *Material) Verifier() *rsa.PublicKey { return m.public }

// KeyID is a short thumbprint of the public key, placed in the kid header.
func (m *Material) KeyID() string { return m.kid }

// EncodePEM returns the PKCS#8 private key and PKIX public key.
func (m *Material) EncodePEM() (privatePEM, publicPEM []byte, err error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(m.private)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(m.public)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}

// Provider owns the configured key locations. Init is expected to be the first
// lifecycle call; Material retries the load when Init was skipped or failed.
type Provider struct {
	privatePath string
	publicPath  string

	mu       sync.Mutex
	material *Material
}

// NewProvider records key file locations without touching the filesystem.
func NewProvider(privatePath, publicPath string) *Provider {
	return &Provider{privatePath: privatePath, publicPath: publicPath}
}

// Init loads the key pair.
func (p *Provider) Init() error {
	_, err := p.Material()
	return err
}

// Material returns the loaded key pair, loading it on first use.
func (p *Provider) Material() (*Material, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.material != nil {
		return p.material, nil
	}
	m, err := Load(p.privatePath, p.publicPath)
	if err != nil {
		return nil, err
	}
	p.material = m
	return m, nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrConfiguration, msg)
}

func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("not an RSA private key")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
