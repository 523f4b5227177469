package keys_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
	"github.com/jrsteele09/go-oidc-engine/token/keys/repofake"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testOptions() keys.Options {
	return keys.Options{
		Algorithms:                     []keys.AlgorithmOptions{{Algorithm: keys.ES256}},
		InitializationDuration:         time.Hour,
		KeyExpiration:                  10 * time.Hour,
		KeyRetirement:                  20 * time.Hour,
		KeyCacheDuration:               15 * time.Minute,
		InitializationKeyCacheDuration: time.Minute,
		DeleteRetiredKeys:              true,
	}
}

func newManager(t *testing.T, store keys.Store, c *clock, opts keys.Options, extra ...keys.ManagerOption) *keys.Manager {
	t.Helper()
	m, err := keys.NewManager(store, opts, append([]keys.ManagerOption{keys.WithNowFunc(c.Now)}, extra...)...)
	require.NoError(t, err)
	return m
}

func TestStatus(t *testing.T) {
	opts := testOptions()
	require.Equal(t, keys.StatusNew, opts.Status(t0, t0.Add(59*time.Minute)))
	require.Equal(t, keys.StatusActive, opts.Status(t0, t0.Add(time.Hour)))
	require.Equal(t, keys.StatusRetired, opts.Status(t0, t0.Add(10*time.Hour)))
	require.Equal(t, keys.StatusDeleted, opts.Status(t0, t0.Add(20*time.Hour)))
}

func TestManager_Bootstrap(t *testing.T) {
	ctx := context.Background()
	store := repofake.NewFakeKeyRepo()
	c := &clock{now: t0}
	m := newManager(t, store, c, testOptions())

	kp, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, keys.ES256, kp.Algorithm)
	require.Equal(t, 1, store.Len())

	again, err := m.SigningCredential(ctx, []string{keys.ES256})
	require.NoError(t, err)
	require.Equal(t, kp.KeyID, again.KeyID)
	require.Equal(t, 1, store.Len())
}

func TestManager_ConcurrentBootstrapCreatesOneKey(t *testing.T) {
	ctx := context.Background()
	store := repofake.NewFakeKeyRepo()
	c := &clock{now: t0}
	m := newManager(t, store, c, testOptions())

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kp, err := m.SigningCredential(ctx, nil)
			if err == nil {
				ids[i] = kp.KeyID
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, store.Len())
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestManager_Rotation(t *testing.T) {
	ctx := context.Background()
	store := repofake.NewFakeKeyRepo()
	c := &clock{now: t0}
	m := newManager(t, store, c, testOptions())

	first, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)

	// inside the successor window the current key keeps signing while the next one is created
	c.Set(t0.Add(9 * time.Hour))
	kp, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, first.KeyID, kp.KeyID)
	require.Equal(t, 2, store.Len())

	c.Set(t0.Add(9*time.Hour + 30*time.Minute))
	kp, err = m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, first.KeyID, kp.KeyID)
	require.Equal(t, 2, store.Len())

	// once the first key expires the successor is active and takes over
	c.Set(t0.Add(10*time.Hour + time.Minute))
	second, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID, second.KeyID)

	validation, err := m.ValidationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, validation, 2)

	// past retirement the first key leaves validation and the store
	c.Set(t0.Add(20*time.Hour + time.Minute))
	validation, err = m.ValidationKeys(ctx)
	require.NoError(t, err)
	for _, k := range validation {
		require.NotEqual(t, first.KeyID, k.KeyID)
		require.Less(t, c.Now().Sub(k.Created), 20*time.Hour)
	}
	stored, err := store.LoadKeys(ctx)
	require.NoError(t, err)
	for _, k := range stored {
		require.NotEqual(t, first.KeyID, k.ID)
	}
}

func TestManager_ExpiredKeyNeverSigns(t *testing.T) {
	ctx := context.Background()
	store := repofake.NewFakeKeyRepo()
	c := &clock{now: t0}
	m := newManager(t, store, c, testOptions())

	first, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)

	c.Set(t0.Add(12 * time.Hour))
	kp, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.KeyID, kp.KeyID)
	require.Less(t, c.Now().Sub(kp.Created), 10*time.Hour)
}

func TestManager_RetiredKeyLeavesValidationInsideCacheWindow(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: t0}
	m := newManager(t, repofake.NewFakeKeyRepo(), c, testOptions())

	signer, err := m.Signer(ctx, nil)
	require.NoError(t, err)
	signed, err := signer.Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)

	c.Set(t0.Add(9 * time.Hour))
	_, err = m.SigningCredential(ctx, nil)
	require.NoError(t, err)

	// the reload here caches both keys for KeyCacheDuration
	c.Set(t0.Add(19*time.Hour + 50*time.Minute))
	validation, err := m.ValidationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, validation, 2)
	_, err = jwt.Parse(signed, m.Keyfunc(ctx))
	require.NoError(t, err)

	c.Set(t0.Add(20*time.Hour + time.Minute))
	validation, err = m.ValidationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, validation, 1)
	require.NotEqual(t, signer.KeyID(), validation[0].KeyID)

	set, err := m.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	require.NotEqual(t, signer.KeyID(), set.Keys[0].KeyID)

	_, err = jwt.Parse(signed, m.Keyfunc(ctx))
	require.Error(t, err)
}

// contextStore fails loads whose context is done.
type contextStore struct {
	*repofake.FakeKeyRepo
}

func (s contextStore) LoadKeys(ctx context.Context) ([]*keys.SerializedKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.FakeKeyRepo.LoadKeys(ctx)
}

func TestManager_ReloadIgnoresCallerCancellation(t *testing.T) {
	c := &clock{now: t0}
	m := newManager(t, contextStore{repofake.NewFakeKeyRepo()}, c, testOptions())
	_, err := m.SigningCredential(context.Background(), nil)
	require.NoError(t, err)

	m.Invalidate()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	validation, err := m.ValidationKeys(ctx)
	require.NoError(t, err)
	require.Len(t, validation, 1)
}

func TestManager_AlgorithmSelection(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.Algorithms = []keys.AlgorithmOptions{{Algorithm: keys.ES256}, {Algorithm: keys.ES384}}
	c := &clock{now: t0}
	m := newManager(t, repofake.NewFakeKeyRepo(), c, opts)

	kp, err := m.SigningCredential(ctx, []string{keys.ES384, keys.RS256})
	require.NoError(t, err)
	require.Equal(t, keys.ES384, kp.Algorithm)

	_, err = m.SigningCredential(ctx, []string{keys.PS512})
	require.ErrorIs(t, err, keys.ErrNoSigningKey)
	require.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestManager_ProtectedKeysAndJWKS(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.Algorithms = []keys.AlgorithmOptions{{Algorithm: keys.ES256, UseX509Certificate: true}}
	opts.CertificateSubject = "test"
	protector, err := keys.NewChaChaProtector("s3cret")
	require.NoError(t, err)

	store := repofake.NewFakeKeyRepo()
	c := &clock{now: t0}
	m := newManager(t, store, c, opts, keys.WithProtector(protector))

	kp, err := m.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, kp.Certificate)

	stored, err := store.LoadKeys(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.True(t, stored[0].DataProtected)
	require.NotContains(t, stored[0].Data, "PRIVATE KEY")

	// a second instance sharing the store and secret reads the same key
	other := newManager(t, store, c, opts, keys.WithProtector(protector))
	same, err := other.SigningCredential(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, kp.KeyID, same.KeyID)

	set, err := m.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"x5c"`)
	require.Contains(t, string(raw), `"kid":"`+kp.KeyID+`"`)
	require.False(t, strings.Contains(string(raw), `"d":`))
}

func TestManager_SignAndVerify(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Now()}
	m := newManager(t, repofake.NewFakeKeyRepo(), c, testOptions())

	signer, err := m.Signer(ctx, nil)
	require.NoError(t, err)
	signed, err := signer.WithHeader("typ", "at+jwt").Sign(jwt.MapClaims{"sub": "alice"})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, m.Keyfunc(ctx))
	require.NoError(t, err)
	require.Equal(t, "at+jwt", parsed.Header["typ"])
	require.Equal(t, signer.KeyID(), parsed.Header["kid"])
	sub, err := parsed.Claims.GetSubject()
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
}

func TestChaChaProtector(t *testing.T) {
	p, err := keys.NewChaChaProtector("one")
	require.NoError(t, err)
	sealed, err := p.Protect([]byte("material"))
	require.NoError(t, err)
	plain, err := p.Unprotect(sealed)
	require.NoError(t, err)
	require.Equal(t, "material", string(plain))

	wrong, err := keys.NewChaChaProtector("two")
	require.NoError(t, err)
	_, err = wrong.Unprotect(sealed)
	require.Error(t, err)

	_, err = keys.NewChaChaProtector("")
	require.Error(t, err)
}
