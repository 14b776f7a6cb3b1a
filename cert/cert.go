// Package cert implements the proxy's certificate authority: a persisted
// self-signed root plus on-demand per-host leaf certificates.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	log "github.com/sirupsen/logrus"
)

const (
	caCertFile = "ca-cert.pem"
	caKeyFile  = "ca-key.pem"

	rootValidity = 10 * 365 * 24 * time.Hour
	cacheSize    = 1024
)

// Store holds the root CA and a bounded cache of minted leaf certificates.
// Concurrent mints for the same host coalesce to a single signer invocation.
type Store struct {
	dir     string
	leafTTL time.Duration

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	rootPEM  []byte

	mu    sync.Mutex
	cache *lru.Cache
	group singleflight.Group
}

type cacheEntry struct {
	cert     *tls.Certificate
	notAfter time.Time
}

// NewStore loads the root CA from dir, generating and persisting one on
// first start. Key material is written mode 0600.
func NewStore(dir string, leafTTL time.Duration) (*Store, error) {
	if dir == "" {
		dir = "./certs"
	}
	if leafTTL <= 0 {
		leafTTL = 825 * 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}

	s := &Store{
		dir:     dir,
		leafTTL: leafTTL,
		cache:   lru.New(cacheSize),
	}

	if err := s.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err := s.generate(); err != nil {
			return nil, err
		}
		log.WithField("dir", dir).Info("generated new root CA")
	}
	return s, nil
}

func (s *Store) caCertPath() string { return filepath.Join(s.dir, caCertFile) }
func (s *Store) caKeyPath() string  { return filepath.Join(s.dir, caKeyFile) }

// RootCertPEM returns the root certificate for operator installation.
func (s *Store) RootCertPEM() []byte {
	return append([]byte(nil), s.rootPEM...)
}

// RootCA returns the parsed root certificate.
func (s *Store) RootCA() *x509.Certificate {
	return s.rootCert
}

func (s *Store) load() error {
	certPEM, err := os.ReadFile(s.caCertPath())
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(s.caKeyPath())
	if err != nil {
		return err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errors.New("invalid CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errors.New("invalid CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse CA key: %w", err)
	}

	s.rootCert = cert
	s.rootKey = key
	s.rootPEM = certPEM
	return nil
}

func (s *Store) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate CA key: %w", err)
	}

	serial, err := randSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Country:      []string{"US"},
			Province:     []string{"California"},
			Locality:     []string{"San Francisco"},
			Organization: []string{"WebAPI Moderator"},
			CommonName:   "WebAPI Moderator CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(rootValidity),
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	if err := os.WriteFile(s.caCertPath(), certPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(s.caKeyPath(), keyPEM, 0o600); err != nil {
		return err
	}

	s.rootCert = cert
	s.rootKey = key
	s.rootPEM = certPEM
	return nil
}

// GetCert returns a leaf certificate for host, minting one on cache miss or
// expiry.
func (s *Store) GetCert(host string) (*tls.Certificate, error) {
	if host == "" {
		return nil, errors.New("empty host")
	}

	s.mu.Lock()
	if v, ok := s.cache.Get(host); ok {
		entry := v.(*cacheEntry)
		if time.Now().Before(entry.notAfter.Add(-time.Hour)) {
			s.mu.Unlock()
			return entry.cert, nil
		}
		s.cache.Remove(host)
	}
	s.mu.Unlock()

	v, err := s.group.Do(host, func() (any, error) {
		cert, notAfter, err := s.mint(host)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache.Add(host, &cacheEntry{cert: cert, notAfter: notAfter})
		s.mu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (s *Store) mint(host string) (*tls.Certificate, time.Time, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("generate leaf key: %w", err)
	}

	serial, err := randSerial()
	if err != nil {
		return nil, time.Time{}, err
	}

	notAfter := time.Now().Add(s.leafTTL)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.rootCert, &key.PublicKey, s.rootKey)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sign leaf for %s: %w", host, err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, time.Time{}, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, s.rootCert.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, notAfter, nil
}

func randSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
