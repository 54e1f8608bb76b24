// Package pairing implements device pairing for the operator gateway's
// device.pair.*/device.token.* methods.
//
// A pairing code is requested through device.pair.request or the
// `gatewire pair` CLI command. An already-authorized operator approves the
// code (out of band, e.g. by reading it off the requesting device's
// screen), which mints and stores a device token. The connect handshake
// does not check device tokens; only the token or password of the
// configured auth mode is verified there.
//
// Pairing codes use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789
// (no ambiguous characters: 0, O, 1, I). Codes expire after 60
// minutes. Max 3 pending codes per account.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vela-systems/gatewire/internal/store"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 8
	// CodeTTLMs is how long a pairing code remains valid.
	CodeTTLMs = uint64(60 * 60 * 1000)
	// MaxPendingPerAccount is the max number of pending codes per account.
	MaxPendingPerAccount = 3

	requestPrefix = "runtime/device-pairing/request/"
	pairedPrefix  = "runtime/device-pairing/paired/"
)

// Request is a pending pairing code, persisted under requestPrefix+Code.
type Request struct {
	Code      string `json:"code"`
	ClientID  string `json:"clientId"`
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
	CreatedAt uint64 `json:"createdAtMs"`
	ExpiresAt uint64 `json:"expiresAtMs"`
}

// Paired is an approved device, persisted under pairedPrefix+DeviceID.
type Paired struct {
	DeviceID  string `json:"deviceId"`
	ClientID  string `json:"clientId"`
	Platform  string `json:"platform"`
	Token     string `json:"token"`
	PairedAt  uint64 `json:"pairedAtMs"`
	PairedBy  string `json:"pairedBy"`
	RotatedAt uint64 `json:"rotatedAtMs,omitempty"`
}

// Service manages pairing codes and approved devices against the
// embedded store, replacing the JSON-file persistence this package
// originally used.
type Service struct {
	store *store.Store
}

// NewService builds a Service bound to st.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// RequestPairing generates a new pairing code for clientID, or returns an
// existing one if clientID already has a pending request, unless
// accountID already has MaxPendingPerAccount requests outstanding.
func (s *Service) RequestPairing(ctx context.Context, clientID, platform, accountID string) (*Request, error) {
	pending, err := s.listPending(ctx)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, req := range pending {
		if req.AccountID == accountID {
			count++
		}
		if req.ClientID == clientID {
			return &req, nil
		}
	}
	if count >= MaxPendingPerAccount {
		return nil, store.InvalidRequest("max pending pairing requests (%d) exceeded for account %s", MaxPendingPerAccount, accountID)
	}

	now := nowMs()
	req := Request{
		Code: generateCode(), ClientID: clientID, Platform: platform,
		AccountID: accountID, CreatedAt: now, ExpiresAt: now + CodeTTLMs,
	}
	if err := s.saveRequest(ctx, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ApprovePairing validates code and mints a Paired device, removing the
// pending request.
func (s *Service) ApprovePairing(ctx context.Context, code, approvedBy string) (*Paired, error) {
	req, err := s.getRequest(ctx, code)
	if err != nil {
		return nil, err
	}
	if req == nil || req.ExpiresAt <= nowMs() {
		return nil, store.InvalidRequest("pairing code %s not found or expired", code)
	}
	if _, err := s.store.DeleteConfigEntry(ctx, requestPrefix+code); err != nil {
		return nil, err
	}

	paired := Paired{
		DeviceID: uuid.NewString(), ClientID: req.ClientID, Platform: req.Platform,
		Token: uuid.NewString(), PairedAt: nowMs(), PairedBy: approvedBy,
	}
	if err := s.savePaired(ctx, &paired); err != nil {
		return nil, err
	}
	return &paired, nil
}

// RejectPairing removes a pending request without pairing it.
func (s *Service) RejectPairing(ctx context.Context, code string) error {
	existed, err := s.store.DeleteConfigEntry(ctx, requestPrefix+code)
	if err != nil {
		return err
	}
	if !existed {
		return store.InvalidRequest("pairing code %s not found", code)
	}
	return nil
}

// RemovePaired revokes a paired device entirely.
func (s *Service) RemovePaired(ctx context.Context, deviceID string) error {
	existed, err := s.store.DeleteConfigEntry(ctx, pairedPrefix+deviceID)
	if err != nil {
		return err
	}
	if !existed {
		return store.InvalidRequest("unknown deviceId")
	}
	return nil
}

// RotateToken replaces deviceID's token with a freshly generated one.
func (s *Service) RotateToken(ctx context.Context, deviceID string) (*Paired, error) {
	paired, err := s.GetPaired(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if paired == nil {
		return nil, store.InvalidRequest("unknown deviceId")
	}
	paired.Token = uuid.NewString()
	paired.RotatedAt = nowMs()
	if err := s.savePaired(ctx, paired); err != nil {
		return nil, err
	}
	return paired, nil
}

// RevokeToken clears deviceID's token without un-pairing it; RotateToken
// issues a new one.
func (s *Service) RevokeToken(ctx context.Context, deviceID string) (*Paired, error) {
	paired, err := s.GetPaired(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if paired == nil {
		return nil, store.InvalidRequest("unknown deviceId")
	}
	paired.Token = ""
	paired.RotatedAt = nowMs()
	if err := s.savePaired(ctx, paired); err != nil {
		return nil, err
	}
	return paired, nil
}

// GetPaired returns deviceID's paired record, or nil if unpaired.
func (s *Service) GetPaired(ctx context.Context, deviceID string) (*Paired, error) {
	entry, err := s.store.GetConfigEntry(ctx, pairedPrefix+deviceID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	var p Paired
	if err := json.Unmarshal(entry.Value, &p); err != nil {
		return nil, store.Unavailable("decode paired device: %v", err)
	}
	return &p, nil
}

// ListPending returns every non-expired pairing request.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	return s.listPending(ctx)
}

// ListPaired returns every paired device.
func (s *Service) ListPaired(ctx context.Context) ([]Paired, error) {
	entries, err := s.store.ListConfigEntries(ctx, pairedPrefix, 1000)
	if err != nil {
		return nil, err
	}
	out := make([]Paired, 0, len(entries))
	for _, e := range entries {
		var p Paired
		if err := json.Unmarshal(e.Value, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) listPending(ctx context.Context) ([]Request, error) {
	entries, err := s.store.ListConfigEntries(ctx, requestPrefix, 1000)
	if err != nil {
		return nil, err
	}
	now := nowMs()
	out := make([]Request, 0, len(entries))
	for _, e := range entries {
		var r Request
		if err := json.Unmarshal(e.Value, &r); err != nil {
			continue
		}
		if r.ExpiresAt <= now {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) getRequest(ctx context.Context, code string) (*Request, error) {
	entry, err := s.store.GetConfigEntry(ctx, requestPrefix+code)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	var r Request
	if err := json.Unmarshal(entry.Value, &r); err != nil {
		return nil, store.Unavailable("decode pairing request: %v", err)
	}
	return &r, nil
}

func (s *Service) saveRequest(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pairing request: %w", err)
	}
	_, err = s.store.SetConfigEntry(ctx, requestPrefix+req.Code, payload)
	return err
}

func (s *Service) savePaired(ctx context.Context, p *Paired) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode paired device: %w", err)
	}
	_, err = s.store.SetConfigEntry(ctx, pairedPrefix+p.DeviceID, payload)
	return err
}

func generateCode() string {
	b := make([]byte, CodeLength)
	_, _ = rand.Read(b)
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code)
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
