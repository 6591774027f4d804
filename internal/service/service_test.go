package service

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/proctor"
)

const appID = "2b5cdd71-aeb1-4f3d-8ac0-1f3acca4efe4"

func TestSealerRoundTrip(t *testing.T) {
	s, err := newSealer("site-secret")
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}

	sealed, err := s.seal("MDEyMzQ1Njc4OWFiY2RlZg==", appID)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "MDEyMzQ1Njc4OWFiY2RlZg") {
		t.Fatal("sealed value contains the plaintext")
	}

	plain, err := s.open(sealed, appID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "MDEyMzQ1Njc4OWFiY2RlZg==" {
		t.Errorf("expected the original key back, got %q", plain)
	}
}

func TestSealerBindsAppID(t *testing.T) {
	s, _ := newSealer("site-secret")
	sealed, _ := s.seal("key", appID)

	if _, err := s.open(sealed, "00000000-0000-0000-0000-000000000000"); err == nil {
		t.Error("expected a different app id to fail")
	}

	other, _ := newSealer("another-secret")
	if _, err := other.open(sealed, appID); err == nil {
		t.Error("expected a different secret to fail")
	}
}

func TestSealerSaltsEachValue(t *testing.T) {
	s, _ := newSealer("site-secret")
	first, err := s.seal("key", appID)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, err := s.seal("key", appID)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if first == second {
		t.Fatal("expected two sealings of one key to differ")
	}
	for _, sealed := range []string{first, second} {
		plain, err := s.open(sealed, appID)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if plain != "key" {
			t.Errorf("expected the original key back, got %q", plain)
		}
	}

	// A fresh sealer over the same secret re-derives the key from the salt.
	again, _ := newSealer("site-secret")
	if _, err := again.open(first, appID); err != nil {
		t.Errorf("expected a restarted sealer to open the value, got %v", err)
	}
}

func TestSealerRejectsTruncatedValue(t *testing.T) {
	s, _ := newSealer("site-secret")
	sealed, _ := s.seal("key", appID)
	raw, _ := base64.StdEncoding.DecodeString(sealed)

	short := base64.StdEncoding.EncodeToString(raw[:saltSize+4])
	if _, err := s.open(short, appID); err == nil {
		t.Error("expected a truncated value to fail")
	}
	if _, err := s.open("not base64!", appID); err == nil {
		t.Error("expected malformed base64 to fail")
	}
}

func TestSealerNeedsSecret(t *testing.T) {
	if _, err := newSealer(""); err != ErrCredentialSecretMissing {
		t.Errorf("expected ErrCredentialSecretMissing, got %v", err)
	}
}

func TestAuthTokenRoundTrip(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret"})

	token, err := auth.IssueToken(42, "sess-1", []string{CapViewStatus}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 || claims.SessionID != "sess-1" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if !claims.Can(CapViewStatus) || claims.Can(CapManage) {
		t.Errorf("unexpected capabilities %v", claims.Capabilities)
	}
}

func TestAuthRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret"})
	other := NewAuthService(&config.Config{JWTSecret: "other-secret"})

	foreign, _ := other.IssueToken(42, "sess-1", nil, time.Minute)
	if _, err := auth.ValidateToken(foreign); err == nil {
		t.Error("expected a token signed with another secret to fail")
	}

	expired, _ := auth.IssueToken(42, "sess-1", nil, -time.Minute)
	if _, err := auth.ValidateToken(expired); err == nil {
		t.Error("expected an expired token to fail")
	}

	noSession, _ := auth.IssueToken(42, "", nil, time.Minute)
	if _, err := auth.ValidateToken(noSession); err == nil {
		t.Error("expected a token without session to fail")
	}
}

func TestSortedParticipants(t *testing.T) {
	set := map[int]*proctor.Participant{
		9: {ParticipantIdentifier: 9},
		3: {ParticipantIdentifier: 3},
		5: {ParticipantIdentifier: 5},
	}
	got := sortedParticipants(set)
	if len(got) != 3 || got[0].ParticipantIdentifier != 3 || got[2].ParticipantIdentifier != 9 {
		t.Errorf("unexpected order: %d %d %d", got[0].ParticipantIdentifier, got[1].ParticipantIdentifier, got[2].ParticipantIdentifier)
	}
}
