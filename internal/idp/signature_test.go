package idp

import (
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"
)

func unixNow() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestSignatureRoundTrip(t *testing.T) {
	v := NewSignatureVerifier("test-webhook-secret")
	body := []byte(`{"type":"identity.created"}`)
	ts := unixNow()

	sig := v.Sign("msg_1", ts, body)
	if err := v.Verify("msg_1", ts, sig, body); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestSignatureWhsecPrefix(t *testing.T) {
	raw := []byte("raw-secret-bytes")
	prefixed := "whsec_" + base64.StdEncoding.EncodeToString(raw)

	signer := NewSignatureVerifier(prefixed)
	verifier := NewSignatureVerifier(string(raw))

	body := []byte(`{}`)
	ts := unixNow()
	sig := signer.Sign("msg_1", ts, body)

	// The prefixed form decodes to the same key as the raw bytes.
	if err := verifier.Verify("msg_1", ts, sig, body); err != nil {
		t.Errorf("Verify() across secret forms error = %v", err)
	}
}

func TestSignatureMissingHeaders(t *testing.T) {
	v := NewSignatureVerifier("secret")
	body := []byte(`{}`)
	ts := unixNow()
	sig := v.Sign("msg_1", ts, body)

	tests := []struct {
		name        string
		id, ts, sig string
	}{
		{"no id", "", ts, sig},
		{"no timestamp", "msg_1", "", sig},
		{"no signature", "msg_1", ts, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(tt.id, tt.ts, tt.sig, body); !errors.Is(err, ErrMissingSignatureHeaders) {
				t.Errorf("Verify() error = %v, want ErrMissingSignatureHeaders", err)
			}
		})
	}
}

func TestSignatureTimestampTolerance(t *testing.T) {
	v := NewSignatureVerifier("secret")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }
	body := []byte(`{}`)

	tests := []struct {
		name    string
		eventAt time.Time
		wantOK  bool
	}{
		{"current", base, true},
		{"4 minutes old", base.Add(-4 * time.Minute), true},
		{"4 minutes ahead", base.Add(4 * time.Minute), true},
		{"6 minutes old", base.Add(-6 * time.Minute), false},
		{"6 minutes ahead", base.Add(6 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := strconv.FormatInt(tt.eventAt.Unix(), 10)
			sig := v.Sign("msg_1", ts, body)
			err := v.Verify("msg_1", ts, sig, body)
			if tt.wantOK && err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
			if !tt.wantOK && !errors.Is(err, ErrInvalidTimestamp) {
				t.Errorf("Verify() error = %v, want ErrInvalidTimestamp", err)
			}
		})
	}

	t.Run("non-numeric timestamp", func(t *testing.T) {
		if err := v.Verify("msg_1", "yesterday", "v1,AAAA", body); !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("Verify() error = %v, want ErrInvalidTimestamp", err)
		}
	})
}

func TestSignatureMismatch(t *testing.T) {
	v := NewSignatureVerifier("secret")
	body := []byte(`{"type":"identity.created"}`)
	ts := unixNow()
	sig := v.Sign("msg_1", ts, body)

	if err := v.Verify("msg_1", ts, sig, []byte(`{"type":"tampered"}`)); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() with altered body error = %v, want ErrSignatureMismatch", err)
	}
	if err := v.Verify("msg_2", ts, sig, body); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() with altered id error = %v, want ErrSignatureMismatch", err)
	}
	if err := NewSignatureVerifier("other-secret").Verify("msg_1", ts, sig, body); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrSignatureMismatch", err)
	}
}

func TestSignatureMultipleVersions(t *testing.T) {
	v := NewSignatureVerifier("secret")
	body := []byte(`{}`)
	ts := unixNow()
	good := v.Sign("msg_1", ts, body)

	// Unknown versions and garbage entries are skipped; any v1 match passes.
	header := "v2,Zm9v not-a-pair v1,!!! " + good
	if err := v.Verify("msg_1", ts, header, body); err != nil {
		t.Errorf("Verify() with mixed header error = %v", err)
	}

	header = "v2,Zm9v v1," + base64.StdEncoding.EncodeToString([]byte("wrong"))
	if err := v.Verify("msg_1", ts, header, body); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() without a valid v1 error = %v, want ErrSignatureMismatch", err)
	}
}
