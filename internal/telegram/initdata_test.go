package telegram_test

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"habitline/internal/telegram"
)

const testBotToken = "12345:test-token"

func signedInitData(t *testing.T, authDate time.Time) string {
	t.Helper()
	values := url.Values{}
	values.Set("query_id", "AAE1")
	values.Set("user", `{"id":42,"username":"alice","first_name":"Alice"}`)
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	return telegram.SignInitData(values, testBotToken)
}

func TestValidateInitData(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signedInitData(t, now.Add(-time.Minute))
	data, err := telegram.ValidateInitData(raw, testBotToken, time.Hour, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if data.User.ID != 42 || data.User.Username != "alice" {
		t.Fatalf("unexpected user: %+v", data.User)
	}
}

func TestValidateInitDataTampered(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signedInitData(t, now.Add(-time.Minute))
	tampered := strings.Replace(raw, "alice", "mallory", 1)
	if _, err := telegram.ValidateInitData(tampered, testBotToken, time.Hour, now); !errors.Is(err, telegram.ErrInitDataSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestValidateInitDataWrongToken(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signedInitData(t, now.Add(-time.Minute))
	if _, err := telegram.ValidateInitData(raw, "other:token", time.Hour, now); !errors.Is(err, telegram.ErrInitDataSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestValidateInitDataExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signedInitData(t, now.Add(-48*time.Hour))
	if _, err := telegram.ValidateInitData(raw, testBotToken, time.Hour, now); !errors.Is(err, telegram.ErrInitDataExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	// no max age disables the freshness check
	if _, err := telegram.ValidateInitData(raw, testBotToken, 0, now); err != nil {
		t.Fatalf("expected ok without max age, got %v", err)
	}
}

func TestValidateInitDataMissingHash(t *testing.T) {
	if _, err := telegram.ValidateInitData("user=%7B%22id%22%3A42%7D", testBotToken, 0, time.Now()); err == nil {
		t.Fatal("expected error for missing hash")
	}
}
