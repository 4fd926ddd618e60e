package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, errHash := HashPassword("s3cret!")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !CheckPassword(hash, "s3cret!") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if _, errHash = HashPassword(" "); errHash != ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", errHash)
	}
}

func TestAdminToken(t *testing.T) {
	now := time.Now()
	token, errIssue := IssueAdminToken("secret", 7, "root", time.Hour, now)
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}
	claims, errParse := ParseAdminToken("secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.AdminID != 7 || claims.Username != "root" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, errParse = ParseAdminToken("other", token); errParse == nil {
		t.Fatalf("expected signature error")
	}

	expired, _ := IssueAdminToken("secret", 7, "root", time.Minute, now.Add(-time.Hour))
	if _, errParse = ParseAdminToken("secret", expired); errParse == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestValidateTOTP(t *testing.T) {
	secret, url, errGenerate := GenerateTOTPSecret("root")
	if errGenerate != nil {
		t.Fatalf("generate: %v", errGenerate)
	}
	if secret == "" || url == "" {
		t.Fatalf("expected secret and url")
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	code, errCode := totp.GenerateCode(secret, now)
	if errCode != nil {
		t.Fatalf("code: %v", errCode)
	}
	if !ValidateTOTP(secret, code, now.Add(20*time.Second)) {
		t.Fatalf("expected code valid within skew")
	}
	if ValidateTOTP(secret, code, now.Add(5*time.Minute)) {
		t.Fatalf("expected stale code rejected")
	}
}
