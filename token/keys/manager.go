// Package keys manages the asymmetric keys that sign tokens. Keys rotate automatically: each
// key moves from new to active to retired to deleted purely by age, and the manager creates
// successors ahead of expiry so every instance sees a key before it signs with it.
package keys

import (
	"context"
	"crypto/x509"
	"sort"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

var ErrNoSigningKey = errors.Wrapf(errors.ErrConfiguration, "no signing key matches the allowed algorithms")

type Manager struct {
	store     Store
	opts      Options
	protector DataProtector
	nowFunc   func() time.Time
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry

	group singleflight.Group

	mu           sync.RWMutex
	cached       []*KeyPair
	cacheExpires time.Time
}

type ManagerOption func(*Manager)

// WithProtector seals private key material before it is stored.
func WithProtector(p DataProtector) ManagerOption {
	return func(m *Manager) {
		m.protector = p
	}
}

func WithNowFunc(f func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = f
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithTelemetry(t *telemetry.Telemetry) ManagerOption {
	return func(m *Manager) {
		m.telemetry = t
	}
}

func NewManager(store Store, opts Options, options ...ManagerOption) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		store:   store,
		opts:    opts,
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	m.telemetry = telemetry.OrNoop(m.telemetry)
	m.logger = m.logger.With().Str("component", "key_manager").Logger()
	return m, nil
}

// Algorithms returns the configured signing algorithms in preference order.
func (m *Manager) Algorithms() []string {
	algs := make([]string, 0, len(m.opts.Algorithms))
	for _, a := range m.opts.Algorithms {
		algs = append(algs, a.Algorithm)
	}
	return algs
}

// SelectAlgorithm returns the first configured algorithm the caller allows. An empty
// allowed list accepts the default.
func (m *Manager) SelectAlgorithm(allowed []string) (string, error) {
	for _, a := range m.opts.Algorithms {
		if len(allowed) == 0 || utils.Contains(allowed, a.Algorithm) {
			return a.Algorithm, nil
		}
	}
	return "", errors.Wrapf(ErrNoSigningKey, "allowed %v", allowed)
}

// SigningCredential returns the key to sign with for the given algorithm restriction.
func (m *Manager) SigningCredential(ctx context.Context, allowed []string) (*KeyPair, error) {
	ctx, span := m.telemetry.Tracer.Start(ctx, "KeyManager.SigningCredential")
	defer span.End()

	alg, err := m.SelectAlgorithm(allowed)
	if err != nil {
		return nil, err
	}
	keys, err := m.loadKeys(ctx)
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	current, create := m.selectSigningKey(keys, alg, now)
	if !create {
		return current, nil
	}

	v, err, _ := m.group.Do("create:"+alg, func() (any, error) {
		return m.rotate(context.WithoutCancel(ctx), alg)
	})
	if err != nil {
		if current != nil {
			// a successor could not be created; the current key is still valid
			m.logger.Err(err).Str("alg", alg).Msg("failed to create successor signing key")
			return current, nil
		}
		return nil, err
	}
	return v.(*KeyPair), nil
}

// Signer wraps SigningCredential in a KeyPairSigner.
func (m *Manager) Signer(ctx context.Context, allowed []string) (*KeyPairSigner, error) {
	kp, err := m.SigningCredential(ctx, allowed)
	if err != nil {
		return nil, err
	}
	return NewKeyPairSigner(kp), nil
}

// selectSigningKey picks the newest active key for alg. It reports create=true when no
// usable key exists or the active key needs a successor that does not exist yet. When no
// key is active but a new one exists, the new key is used at once.
func (m *Manager) selectSigningKey(keys []*KeyPair, alg string, now time.Time) (current *KeyPair, create bool) {
	var active, fresh *KeyPair
	for _, k := range keys {
		if k.Algorithm != alg {
			continue
		}
		switch m.opts.Status(k.Created, now) {
		case StatusActive:
			if active == nil || k.Created.After(active.Created) {
				active = k
			}
		case StatusNew:
			if fresh == nil || k.Created.After(fresh.Created) {
				fresh = k
			}
		}
	}
	switch {
	case active != nil:
		return active, fresh == nil && m.opts.NeedsSuccessor(active.Created, now)
	case fresh != nil:
		return fresh, false
	default:
		return nil, true
	}
}

// rotate re-reads the store, and creates a key for alg only if one is still needed.
func (m *Manager) rotate(ctx context.Context, alg string) (*KeyPair, error) {
	keys, err := m.reload(ctx)
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	current, create := m.selectSigningKey(keys, alg, now)
	if !create {
		return current, nil
	}

	created, err := m.createKey(ctx, alg, now)
	if err != nil {
		return nil, err
	}
	if _, err := m.reload(ctx); err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}
	return created, nil
}

func (m *Manager) createKey(ctx context.Context, alg string, now time.Time) (*KeyPair, error) {
	algOpts, _ := m.opts.algorithm(alg)
	kp, err := GenerateKeyPair(uuid.NewString(), alg, m.opts.RSAKeySize, now.UTC())
	if err != nil {
		return nil, err
	}
	if algOpts.UseX509Certificate {
		if err := kp.AttachSelfSignedCertificate(m.opts.CertificateSubject, m.opts.KeyRetirement); err != nil {
			return nil, err
		}
	}
	sk, err := Serialize(kp, m.protector)
	if err != nil {
		return nil, err
	}
	if err := m.store.StoreKey(ctx, sk); err != nil {
		return nil, errors.Wrapf(err, "failed to store signing key")
	}
	m.telemetry.Metrics.KeysCreated.WithLabelValues(alg).Inc()
	m.logger.Info().Str("kid", kp.KeyID).Str("alg", alg).Msg("created signing key")
	return kp, nil
}

// ValidationKeys returns every key that has not passed retirement. Age is checked on each
// call, so a key crossing KeyRetirement inside the cache window is dropped at once.
func (m *Manager) ValidationKeys(ctx context.Context) ([]*KeyPair, error) {
	keys, err := m.loadKeys(ctx)
	if err != nil {
		return nil, err
	}
	now := m.nowFunc()
	valid := make([]*KeyPair, 0, len(keys))
	for _, kp := range keys {
		if m.opts.Status(kp.Created, now) != StatusDeleted {
			valid = append(valid, kp)
		}
	}
	return valid, nil
}

// loadKeys serves from the cache while it is fresh and single-flights reloads.
func (m *Manager) loadKeys(ctx context.Context) ([]*KeyPair, error) {
	m.mu.RLock()
	if m.cached != nil && m.nowFunc().Before(m.cacheExpires) {
		keys := m.cached
		m.mu.RUnlock()
		return keys, nil
	}
	m.mu.RUnlock()

	// the result is shared by every waiter, whatever happens to this caller
	v, err, _ := m.group.Do("load", func() (any, error) {
		return m.reload(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]*KeyPair), nil
}

// reload reads the store, drops keys past retirement and refreshes the cache.
func (m *Manager) reload(ctx context.Context) ([]*KeyPair, error) {
	stored, err := m.store.LoadKeys(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load signing keys")
	}
	now := m.nowFunc()
	keys := make([]*KeyPair, 0, len(stored))
	anyNew := false
	for _, sk := range stored {
		status := m.opts.Status(sk.Created, now)
		if status == StatusDeleted {
			if m.opts.DeleteRetiredKeys {
				if err := m.store.DeleteKey(ctx, sk.ID); err != nil {
					m.logger.Err(err).Str("kid", sk.ID).Msg("failed to delete retired signing key")
				} else {
					m.logger.Info().Str("kid", sk.ID).Msg("deleted retired signing key")
				}
			}
			continue
		}
		kp, err := Deserialize(sk, m.protector)
		if err != nil {
			m.logger.Err(err).Str("kid", sk.ID).Msg("skipping unreadable signing key")
			continue
		}
		if status == StatusNew {
			anyNew = true
		}
		keys = append(keys, kp)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Created.After(keys[j].Created)
	})

	ttl := m.opts.KeyCacheDuration
	if anyNew && m.opts.InitializationKeyCacheDuration > 0 && m.opts.InitializationKeyCacheDuration < ttl {
		ttl = m.opts.InitializationKeyCacheDuration
	}
	m.mu.Lock()
	m.cached = keys
	m.cacheExpires = now.Add(ttl)
	m.mu.Unlock()
	return keys, nil
}

// Invalidate drops the cache so the next call reads the store.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// JWKS returns the public validation keys, with x5c and thumbprints for certificate keys.
func (m *Manager) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	keys, err := m.ValidationKeys(ctx)
	if err != nil {
		return nil, err
	}
	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, kp := range keys {
		jwk := jose.JSONWebKey{
			Key:       kp.PublicKey,
			KeyID:     kp.KeyID,
			Algorithm: kp.Algorithm,
			Use:       "sig",
		}
		if kp.Certificate != nil {
			jwk.Certificates = []*x509.Certificate{kp.Certificate}
			jwk.CertificateThumbprintSHA1, jwk.CertificateThumbprintSHA256 = kp.Thumbprints()
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}

// Keyfunc resolves a JWT's kid against the validation keys for jwt.Parse.
func (m *Manager) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		keys, err := m.ValidationKeys(ctx)
		if err != nil {
			return nil, err
		}
		for _, kp := range keys {
			if kid != "" && kp.KeyID != kid {
				continue
			}
			if token.Method.Alg() != kp.Algorithm {
				continue
			}
			return kp.PublicKey, nil
		}
		return nil, errors.Wrapf(errors.ErrInvalidToken, "no validation key for kid %q", kid)
	}
}
