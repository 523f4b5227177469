package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

// JWT algorithms (string values used in JWKs and headers)
const (
	RS256 = "RS256"
	RS384 = "RS384"
	RS512 = "RS512"
	PS256 = "PS256"
	PS384 = "PS384"
	PS512 = "PS512"
	ES256 = "ES256"
	ES384 = "ES384"
	ES512 = "ES512"
)

// SupportedAlgorithms lists every algorithm a signing key can be generated for.
var SupportedAlgorithms = []string{RS256, RS384, RS512, PS256, PS384, PS512, ES256, ES384, ES512}

const DefaultRSAKeySize = 2048

// KeyPair represents a public/private key pair for signing tokens
type KeyPair struct {
	KeyID       string
	Created     time.Time
	PrivateKey  crypto.Signer
	PublicKey   crypto.PublicKey
	Algorithm   string
	Certificate *x509.Certificate
}

// IsSupportedAlgorithm reports whether keys can be generated for alg.
func IsSupportedAlgorithm(alg string) bool {
	return SigningMethod(alg) != nil
}

// SigningMethod maps an algorithm name to its jwt signing method, or nil.
func SigningMethod(alg string) jwt.SigningMethod {
	switch alg {
	case RS256:
		return jwt.SigningMethodRS256
	case RS384:
		return jwt.SigningMethodRS384
	case RS512:
		return jwt.SigningMethodRS512
	case PS256:
		return jwt.SigningMethodPS256
	case PS384:
		return jwt.SigningMethodPS384
	case PS512:
		return jwt.SigningMethodPS512
	case ES256:
		return jwt.SigningMethodES256
	case ES384:
		return jwt.SigningMethodES384
	case ES512:
		return jwt.SigningMethodES512
	default:
		return nil
	}
}

func curveFor(alg string) elliptic.Curve {
	switch alg {
	case ES384:
		return elliptic.P384()
	case ES512:
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}

func isECDSA(alg string) bool {
	return alg == ES256 || alg == ES384 || alg == ES512
}

// GenerateKeyPair creates a fresh key for alg. rsaBits only applies to RSA and PS algorithms.
func GenerateKeyPair(keyID, alg string, rsaBits int, created time.Time) (*KeyPair, error) {
	if !IsSupportedAlgorithm(alg) {
		return nil, errors.Configurationf("unsupported signing algorithm %q", alg)
	}
	kp := &KeyPair{
		KeyID:     keyID,
		Created:   created,
		Algorithm: alg,
	}
	if isECDSA(alg) {
		privateKey, err := ecdsa.GenerateKey(curveFor(alg), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
		}
		kp.PrivateKey = privateKey
		kp.PublicKey = &privateKey.PublicKey
		return kp, nil
	}

	if rsaBits < DefaultRSAKeySize {
		rsaBits = DefaultRSAKeySize
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	kp.PrivateKey = privateKey
	kp.PublicKey = &privateKey.PublicKey
	return kp, nil
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	return SigningMethod(kp.Algorithm)
}

// AttachSelfSignedCertificate wraps the public key in a self-signed certificate valid for
// lifetime, so JWKS consumers that want x5c/x5t can use it.
func (kp *KeyPair) AttachSelfSignedCertificate(subject string, lifetime time.Duration) error {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return fmt.Errorf("failed to generate certificate serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             kp.Created.Add(-time.Minute),
		NotAfter:              kp.Created.Add(lifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	kp.Certificate = cert
	return nil
}

// Thumbprints returns the SHA-1 and SHA-256 certificate thumbprints for x5t and x5t#S256.
func (kp *KeyPair) Thumbprints() (sha1Sum, sha256Sum []byte) {
	if kp.Certificate == nil {
		return nil, nil
	}
	s1 := sha1.Sum(kp.Certificate.Raw)
	s256 := sha256.Sum256(kp.Certificate.Raw)
	return s1[:], s256[:]
}

// ExportPrivateKeyPEM exports the private key as PKCS#8 PEM
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ExportCertificatePEM exports the attached certificate, or "" without one.
func (kp *KeyPair) ExportCertificatePEM() string {
	if kp.Certificate == nil {
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.Certificate.Raw}))
}

// ExportPublicKeyPEM exports the public key as PEM
func (kp *KeyPair) ExportPublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// LoadPrivateKeyFromPEM loads a PKCS#8 RSA or ECDSA private key.
func LoadPrivateKeyFromPEM(pemData string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// LoadCertificateFromPEM loads an X.509 certificate.
func LoadCertificateFromPEM(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
