package grants

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ReferenceTokenStore persists access tokens issued by reference.
type ReferenceTokenStore struct {
	h handleStore[Token]
}

func NewReferenceTokenStore(store Store) *ReferenceTokenStore {
	return &ReferenceTokenStore{h: newHandleStore[Token](store, ReferenceTokenGrant)}
}

// StoreReferenceToken persists token and returns the handle to give to the client.
func (s *ReferenceTokenStore) StoreReferenceToken(ctx context.Context, token *Token) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", err
	}
	err = s.h.create(ctx, handle, token, grantMeta{
		ClientID:     token.ClientID,
		SubjectID:    token.SubjectID(),
		SessionID:    token.SessionID(),
		Description:  token.Description,
		CreationTime: token.CreationTime,
		Expiration:   expiresAt(token.CreationTime, token.Lifetime),
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (s *ReferenceTokenStore) GetReferenceToken(ctx context.Context, handle string) (*Token, error) {
	token, _, err := s.h.get(ctx, handle)
	return token, err
}

func (s *ReferenceTokenStore) RemoveReferenceToken(ctx context.Context, handle string) error {
	return s.h.remove(ctx, handle)
}

// RemoveReferenceTokens removes the subject's tokens for a client, optionally scoped to a session.
func (s *ReferenceTokenStore) RemoveReferenceTokens(ctx context.Context, subjectID, clientID, sessionID string) error {
	return s.h.removeAll(ctx, subjectID, clientID, sessionID)
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore struct {
	h handleStore[RefreshToken]
}

func NewRefreshTokenStore(store Store) *RefreshTokenStore {
	return &RefreshTokenStore{h: newHandleStore[RefreshToken](store, RefreshTokenGrant)}
}

// StoreRefreshToken persists the refresh token and returns its handle.
func (s *RefreshTokenStore) StoreRefreshToken(ctx context.Context, rt *RefreshToken) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", err
	}
	err = s.h.create(ctx, handle, rt, grantMeta{
		ClientID:     rt.ClientID,
		SubjectID:    rt.SubjectID(),
		SessionID:    rt.SessionID(),
		Description:  rt.Description,
		CreationTime: rt.CreationTime,
		Expiration:   expiresAt(rt.CreationTime, rt.Lifetime),
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// GetRefreshToken returns the token with ConsumedTime taken from the stored record.
func (s *RefreshTokenStore) GetRefreshToken(ctx context.Context, handle string) (*RefreshToken, error) {
	rt, grant, err := s.h.get(ctx, handle)
	if err != nil {
		return nil, err
	}
	rt.ConsumedTime = grant.ConsumedTime
	return rt, nil
}

// ConsumeRefreshToken marks the handle used. Only one concurrent caller succeeds; the others
// receive ErrAlreadyConsumed.
func (s *RefreshTokenStore) ConsumeRefreshToken(ctx context.Context, handle string) (*RefreshToken, error) {
	rt, err := s.h.consume(ctx, handle)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// UpdateRefreshToken rewrites the payload and keeps the grant expiration in step with Lifetime.
func (s *RefreshTokenStore) UpdateRefreshToken(ctx context.Context, handle string, fn func(*RefreshToken) error) error {
	return s.h.update(ctx, handle, func(rt *RefreshToken, grant *PersistedGrant) error {
		if err := fn(rt); err != nil {
			return err
		}
		grant.Expiration = expiresAt(rt.CreationTime, rt.Lifetime)
		grant.ConsumedTime = rt.ConsumedTime
		return nil
	})
}

func (s *RefreshTokenStore) RemoveRefreshToken(ctx context.Context, handle string) error {
	return s.h.remove(ctx, handle)
}

func (s *RefreshTokenStore) RemoveRefreshTokens(ctx context.Context, subjectID, clientID, sessionID string) error {
	return s.h.removeAll(ctx, subjectID, clientID, sessionID)
}

// ConsentStore persists remembered user consent. Keys derive from subject and client so at
// most one consent exists per pair.
type ConsentStore struct {
	h handleStore[Consent]
}

func NewConsentStore(store Store) *ConsentStore {
	return &ConsentStore{h: newHandleStore[Consent](store, UserConsentGrant)}
}

func consentHandle(subjectID, clientID string) string {
	return clientID + "|" + subjectID
}

// StoreUserConsent replaces any previous consent of the subject for the client.
func (s *ConsentStore) StoreUserConsent(ctx context.Context, consent *Consent) error {
	handle := consentHandle(consent.SubjectID, consent.ClientID)
	if err := s.h.remove(ctx, handle); err != nil {
		return err
	}
	return s.h.create(ctx, handle, consent, grantMeta{
		ClientID:     consent.ClientID,
		SubjectID:    consent.SubjectID,
		CreationTime: consent.CreationTime,
		Expiration:   consent.Expiration,
	})
}

func (s *ConsentStore) GetUserConsent(ctx context.Context, subjectID, clientID string) (*Consent, error) {
	consent, _, err := s.h.get(ctx, consentHandle(subjectID, clientID))
	return consent, err
}

func (s *ConsentStore) RemoveUserConsent(ctx context.Context, subjectID, clientID string) error {
	return s.h.remove(ctx, consentHandle(subjectID, clientID))
}

// AuthorizationCodeStore persists one-time authorization codes.
type AuthorizationCodeStore struct {
	h handleStore[AuthorizationCode]
}

func NewAuthorizationCodeStore(store Store) *AuthorizationCodeStore {
	return &AuthorizationCodeStore{h: newHandleStore[AuthorizationCode](store, AuthorizationCodeGrant)}
}

func (s *AuthorizationCodeStore) StoreAuthorizationCode(ctx context.Context, code *AuthorizationCode) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", err
	}
	err = s.h.create(ctx, handle, code, grantMeta{
		ClientID:     code.ClientID,
		SubjectID:    code.Subject.SubjectID,
		SessionID:    code.Subject.SessionID,
		Description:  code.Description,
		CreationTime: code.CreationTime,
		Expiration:   expiresAt(code.CreationTime, code.Lifetime),
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// RedeemAuthorizationCode consumes and removes the code. A second redemption fails.
func (s *AuthorizationCodeStore) RedeemAuthorizationCode(ctx context.Context, handle string) (*AuthorizationCode, error) {
	code, err := s.h.consume(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := s.h.remove(ctx, handle); err != nil {
		return nil, err
	}
	return code, nil
}

func (s *AuthorizationCodeStore) RemoveAuthorizationCode(ctx context.Context, handle string) error {
	return s.h.remove(ctx, handle)
}

// DeviceFlowStore persists device authorizations. The record is keyed by the device code; a
// second record keyed by the user code points at it so both lookups are direct.
type DeviceFlowStore struct {
	h handleStore[DeviceCode]
	// index records share the device code grant type so cleanup and filters treat them alike
	index handleStore[userCodeIndex]
}

type userCodeIndex struct {
	DeviceKey string `json:"device_key"`
}

const userCodeKind = "user_code"

func NewDeviceFlowStore(store Store) *DeviceFlowStore {
	return &DeviceFlowStore{
		h:     newHandleStore[DeviceCode](store, DeviceCodeGrant),
		index: newHandleStore[userCodeIndex](store, DeviceCodeGrant),
	}
}

func userCodeKey(userCode string) string {
	return utils.HashedKey(userCode, userCodeKind)
}

// StoreDeviceAuthorization persists the pair. It returns ErrDuplicateKey when the user code
// is already in use.
func (s *DeviceFlowStore) StoreDeviceAuthorization(ctx context.Context, deviceCode, userCode string, data *DeviceCode) error {
	data.UserCode = userCode
	meta := grantMeta{
		ClientID:     data.ClientID,
		Description:  data.Description,
		CreationTime: data.CreationTime,
		Expiration:   expiresAt(data.CreationTime, data.Lifetime),
	}
	deviceKey := s.h.key(deviceCode)
	if err := s.index.createWithKey(ctx, userCodeKey(userCode), &userCodeIndex{DeviceKey: deviceKey}, meta); err != nil {
		return err
	}
	if err := s.h.createWithKey(ctx, deviceKey, data, meta); err != nil {
		_ = s.index.store.Remove(ctx, userCodeKey(userCode))
		return err
	}
	return nil
}

func (s *DeviceFlowStore) FindByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	dc, _, err := s.h.get(ctx, deviceCode)
	return dc, err
}

func (s *DeviceFlowStore) deviceKeyForUserCode(ctx context.Context, userCode string) (string, error) {
	idx, _, err := s.index.getByKey(ctx, userCodeKey(userCode))
	if err != nil {
		return "", err
	}
	return idx.DeviceKey, nil
}

func (s *DeviceFlowStore) FindByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	key, err := s.deviceKeyForUserCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	dc, _, err := s.h.getByKey(ctx, key)
	return dc, err
}

// UpdateByUserCode records the user's decision. Subject and session are copied to the grant.
func (s *DeviceFlowStore) UpdateByUserCode(ctx context.Context, userCode string, fn func(*DeviceCode) error) error {
	key, err := s.deviceKeyForUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	return s.h.updateByKey(ctx, key, func(dc *DeviceCode, grant *PersistedGrant) error {
		if err := fn(dc); err != nil {
			return err
		}
		if dc.Subject != nil {
			grant.SubjectID = dc.Subject.SubjectID
			grant.SessionID = dc.Subject.SessionID
		}
		return nil
	})
}

// RemoveByDeviceCode removes the device record and its user code index.
func (s *DeviceFlowStore) RemoveByDeviceCode(ctx context.Context, deviceCode string) error {
	dc, _, err := s.h.get(ctx, deviceCode)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := s.h.remove(ctx, deviceCode); err != nil {
		return err
	}
	return s.index.store.Remove(ctx, userCodeKey(dc.UserCode))
}

// PushedAuthorizationRequestStore persists PAR parameters until authorize consumes them.
type PushedAuthorizationRequestStore struct {
	h handleStore[PushedAuthorizationRequest]
}

func NewPushedAuthorizationRequestStore(store Store) *PushedAuthorizationRequestStore {
	return &PushedAuthorizationRequestStore{h: newHandleStore[PushedAuthorizationRequest](store, PushedAuthorizationRequestGrant)}
}

func (s *PushedAuthorizationRequestStore) StorePushedAuthorizationRequest(ctx context.Context, par *PushedAuthorizationRequest) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", err
	}
	err = s.h.create(ctx, handle, par, grantMeta{
		ClientID:     par.ClientID,
		CreationTime: par.CreationTime,
		Expiration:   expiresAt(par.CreationTime, par.Lifetime),
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (s *PushedAuthorizationRequestStore) GetPushedAuthorizationRequest(ctx context.Context, handle string) (*PushedAuthorizationRequest, error) {
	par, _, err := s.h.get(ctx, handle)
	return par, err
}

// ConsumePushedAuthorizationRequest returns the request once and removes it.
func (s *PushedAuthorizationRequestStore) ConsumePushedAuthorizationRequest(ctx context.Context, handle string) (*PushedAuthorizationRequest, error) {
	par, err := s.h.consume(ctx, handle)
	if err != nil {
		return nil, err
	}
	if err := s.h.remove(ctx, handle); err != nil {
		return nil, err
	}
	return par, nil
}

// ConsumePushed consumes the request behind a request_uri value.
func (s *PushedAuthorizationRequestStore) ConsumePushed(ctx context.Context, requestURI string) error {
	_, err := s.ConsumePushedAuthorizationRequest(ctx, strings.TrimPrefix(requestURI, oauthmodel.RequestURIPrefix))
	return err
}

// BackchannelAuthenticationRequestStore persists CIBA requests.
type BackchannelAuthenticationRequestStore struct {
	h handleStore[BackchannelAuthenticationRequest]
}

func NewBackchannelAuthenticationRequestStore(store Store) *BackchannelAuthenticationRequestStore {
	return &BackchannelAuthenticationRequestStore{h: newHandleStore[BackchannelAuthenticationRequest](store, BackchannelAuthenticationRequestGrant)}
}

// CreateRequest persists req and returns the auth_req_id handle. req.InternalID is set to the
// storage key.
func (s *BackchannelAuthenticationRequestStore) CreateRequest(ctx context.Context, req *BackchannelAuthenticationRequest) (string, error) {
	handle, err := newHandle()
	if err != nil {
		return "", err
	}
	req.InternalID = s.h.key(handle)
	err = s.h.create(ctx, handle, req, grantMeta{
		ClientID:     req.ClientID,
		SubjectID:    req.Subject.SubjectID,
		SessionID:    req.SessionID,
		Description:  req.Description,
		CreationTime: req.CreationTime,
		Expiration:   expiresAt(req.CreationTime, req.Lifetime),
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (s *BackchannelAuthenticationRequestStore) GetByAuthorizationRequestID(ctx context.Context, authReqID string) (*BackchannelAuthenticationRequest, error) {
	req, _, err := s.h.get(ctx, authReqID)
	return req, err
}

func (s *BackchannelAuthenticationRequestStore) GetByInternalID(ctx context.Context, internalID string) (*BackchannelAuthenticationRequest, error) {
	req, _, err := s.h.getByKey(ctx, internalID)
	return req, err
}

// GetLoginsForUser lists the subject's requests, optionally for one client.
func (s *BackchannelAuthenticationRequestStore) GetLoginsForUser(ctx context.Context, subjectID, clientID string) ([]*BackchannelAuthenticationRequest, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}
	items, _, err := s.h.getAll(ctx, Filter{SubjectID: subjectID, ClientID: clientID})
	return items, err
}

func (s *BackchannelAuthenticationRequestStore) UpdateByInternalID(ctx context.Context, internalID string, fn func(*BackchannelAuthenticationRequest) error) error {
	return s.h.updateByKey(ctx, internalID, func(req *BackchannelAuthenticationRequest, grant *PersistedGrant) error {
		if err := fn(req); err != nil {
			return err
		}
		grant.SessionID = req.SessionID
		return nil
	})
}

func (s *BackchannelAuthenticationRequestStore) RemoveByAuthorizationRequestID(ctx context.Context, authReqID string) error {
	return s.h.remove(ctx, authReqID)
}

func (s *BackchannelAuthenticationRequestStore) RemoveByInternalID(ctx context.Context, internalID string) error {
	return s.h.store.Remove(ctx, internalID)
}
