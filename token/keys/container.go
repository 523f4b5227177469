package keys

import (
	"encoding/json"
	"fmt"
	"time"
)

const serializedKeyVersion = 1

// SerializedKey is the storage form of a signing key. Data is the JSON KeyContainer,
// sealed by a DataProtector when DataProtected is set.
type SerializedKey struct {
	ID                string    `json:"id"`
	Version           int       `json:"version"`
	Created           time.Time `json:"created"`
	Algorithm         string    `json:"algorithm"`
	IsX509Certificate bool      `json:"is_x509_certificate"`
	DataProtected     bool      `json:"data_protected"`
	Data              string    `json:"data"`
}

// KeyContainer is the plaintext key material.
type KeyContainer struct {
	ID             string    `json:"id"`
	Created        time.Time `json:"created"`
	Algorithm      string    `json:"algorithm"`
	PrivateKeyPEM  string    `json:"private_key"`
	CertificatePEM string    `json:"certificate,omitempty"`
}

// Serialize converts a key pair to its storage form, sealing it when protector is non-nil.
func Serialize(kp *KeyPair, protector DataProtector) (*SerializedKey, error) {
	privatePEM, err := kp.ExportPrivateKeyPEM()
	if err != nil {
		return nil, err
	}
	container := KeyContainer{
		ID:             kp.KeyID,
		Created:        kp.Created,
		Algorithm:      kp.Algorithm,
		PrivateKeyPEM:  privatePEM,
		CertificatePEM: kp.ExportCertificatePEM(),
	}
	data, err := json.Marshal(container)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key container: %w", err)
	}
	sk := &SerializedKey{
		ID:                kp.KeyID,
		Version:           serializedKeyVersion,
		Created:           kp.Created,
		Algorithm:         kp.Algorithm,
		IsX509Certificate: kp.Certificate != nil,
		Data:              string(data),
	}
	if protector != nil {
		sealed, err := protector.Protect(data)
		if err != nil {
			return nil, err
		}
		sk.Data = sealed
		sk.DataProtected = true
	}
	return sk, nil
}

// Deserialize restores a key pair. A protected key without a protector is an error.
func Deserialize(sk *SerializedKey, protector DataProtector) (*KeyPair, error) {
	data := []byte(sk.Data)
	if sk.DataProtected {
		if protector == nil {
			return nil, fmt.Errorf("key %s is protected but no data protector is configured", sk.ID)
		}
		plain, err := protector.Unprotect(sk.Data)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", sk.ID, err)
		}
		data = plain
	}
	var container KeyContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key container %s: %w", sk.ID, err)
	}
	privateKey, err := LoadPrivateKeyFromPEM(container.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", sk.ID, err)
	}
	kp := &KeyPair{
		KeyID:      sk.ID,
		Created:    sk.Created,
		Algorithm:  sk.Algorithm,
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public(),
	}
	if container.CertificatePEM != "" {
		cert, err := LoadCertificateFromPEM(container.CertificatePEM)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", sk.ID, err)
		}
		kp.Certificate = cert
	}
	return kp, nil
}
