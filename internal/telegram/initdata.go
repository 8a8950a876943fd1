package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataSignature = errors.New("init data signature mismatch")
	ErrInitDataExpired   = errors.New("init data expired")
)

// WebAppUser is the user object embedded in Mini App init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// InitData is the validated payload of a Mini App launch.
type InitData struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
}

// ValidateInitData checks the Mini App init data signature against the bot
// token and returns the parsed payload. The check string is every key=value
// pair except hash, sorted and newline-joined; the signing key is
// HMAC-SHA256("WebAppData", botToken). A non-positive maxAge skips the
// freshness check.
func ValidateInitData(raw, botToken string, maxAge time.Duration, now time.Time) (InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return InitData{}, fmt.Errorf("parse init data: %w", err)
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return InitData{}, errors.New("init data missing hash")
	}

	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(gotHash)) {
		return InitData{}, ErrInitDataSignature
	}

	var out InitData
	out.QueryID = values.Get("query_id")
	if authDate := values.Get("auth_date"); authDate != "" {
		unix, err := strconv.ParseInt(authDate, 10, 64)
		if err != nil {
			return InitData{}, fmt.Errorf("parse auth_date: %w", err)
		}
		out.AuthDate = time.Unix(unix, 0).UTC()
		if maxAge > 0 && now.Sub(out.AuthDate) > maxAge {
			return InitData{}, ErrInitDataExpired
		}
	}
	if userJSON := values.Get("user"); userJSON != "" {
		if err := json.Unmarshal([]byte(userJSON), &out.User); err != nil {
			return InitData{}, fmt.Errorf("parse init data user: %w", err)
		}
	}
	if out.User.ID == 0 {
		return InitData{}, errors.New("init data missing user")
	}
	return out, nil
}

// SignInitData produces a valid init data string for the given values. Used
// by tests and local tooling to mint launch payloads.
func SignInitData(values url.Values, botToken string) string {
	values.Del("hash")
	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}
