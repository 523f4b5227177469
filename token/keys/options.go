package keys

import (
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

// AlgorithmOptions configures one signing algorithm. The first configured algorithm is the
// default for clients without an algorithm restriction.
type AlgorithmOptions struct {
	Algorithm          string
	UseX509Certificate bool
}

type Options struct {
	Algorithms []AlgorithmOptions
	RSAKeySize int

	// A key is new until InitializationDuration, active until KeyExpiration and retired
	// until KeyRetirement, all measured from its creation.
	InitializationDuration time.Duration
	KeyExpiration          time.Duration
	KeyRetirement          time.Duration

	KeyCacheDuration               time.Duration
	InitializationKeyCacheDuration time.Duration
	DeleteRetiredKeys              bool
	CertificateSubject             string
}

func DefaultOptions() Options {
	return Options{
		Algorithms:                     []AlgorithmOptions{{Algorithm: RS256}},
		RSAKeySize:                     DefaultRSAKeySize,
		InitializationDuration:         14 * 24 * time.Hour,
		KeyExpiration:                  90 * 24 * time.Hour,
		KeyRetirement:                  104 * 24 * time.Hour,
		KeyCacheDuration:               14 * 24 * time.Hour / 4,
		InitializationKeyCacheDuration: time.Minute,
		DeleteRetiredKeys:              true,
		CertificateSubject:             "OIDC Signing Key",
	}
}

func (o Options) Validate() error {
	if len(o.Algorithms) == 0 {
		return errors.Configurationf("at least one signing algorithm is required")
	}
	for _, a := range o.Algorithms {
		if !IsSupportedAlgorithm(a.Algorithm) {
			return errors.Configurationf("unsupported signing algorithm %q", a.Algorithm)
		}
	}
	if o.InitializationDuration < 0 || o.KeyExpiration <= o.InitializationDuration || o.KeyRetirement <= o.KeyExpiration {
		return errors.Configurationf("key durations must satisfy initialization < expiration < retirement")
	}
	if o.KeyCacheDuration <= 0 {
		return errors.Configurationf("key cache duration must be positive")
	}
	return nil
}

// Status is the lifecycle state of a key, derived from its age.
type Status int

const (
	StatusNew Status = iota
	StatusActive
	StatusRetired
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusActive:
		return "active"
	case StatusRetired:
		return "retired"
	default:
		return "deleted"
	}
}

// Status computes the state of a key created at created.
func (o Options) Status(created, now time.Time) Status {
	age := now.Sub(created)
	switch {
	case age < o.InitializationDuration:
		return StatusNew
	case age < o.KeyExpiration:
		return StatusActive
	case age < o.KeyRetirement:
		return StatusRetired
	default:
		return StatusDeleted
	}
}

// NeedsSuccessor reports whether an active key is close enough to expiry that its
// replacement must be created now to be past initialization when it takes over.
func (o Options) NeedsSuccessor(created, now time.Time) bool {
	return now.Sub(created) >= o.KeyExpiration-o.InitializationDuration
}

func (o Options) algorithm(alg string) (AlgorithmOptions, bool) {
	for _, a := range o.Algorithms {
		if a.Algorithm == alg {
			return a, true
		}
	}
	return AlgorithmOptions{}, false
}
