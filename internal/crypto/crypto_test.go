package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known test vector key (hardhat account #0); safe to embed.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testPrivateKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testPrivateKey {
		t.Errorf("round trip = %q, want key without 0x prefix", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testPrivateKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(blob, "*******"); err == nil {
		t.Error("decryption succeeded with wrong password")
	}
}

func TestEncryptRequiresPassword(t *testing.T) {
	if _, err := EncryptKey(testPrivateKey, ""); err == nil {
		t.Error("EncryptKey accepted empty password")
	}
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: " " + testPrivateKey + " "})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testPrivateKey {
		t.Errorf("LoadKey = %q, want trimmed raw key", got)
	}
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testPrivateKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testPrivateKey {
		t.Errorf("LoadKey = %q, want decrypted key", got)
	}
}

func TestLoadKeyNothingConfigured(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Error("LoadKey succeeded with no key material")
	}
}

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner("0x"+testPrivateKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if got := s.Address().Hex(); got != testAddress {
		t.Errorf("address = %s, want %s", got, testAddress)
	}
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	if _, err := NewSigner("not-a-key", 137); err == nil {
		t.Error("NewSigner accepted invalid key")
	}
}

func TestSignOrderDeterministic(t *testing.T) {
	s, err := NewSigner(testPrivateKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	order := OrderPayload{
		Salt:        "12345",
		Maker:       testAddress,
		Signer:      testAddress,
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "7136899",
		MakerAmount: "47000000",
		TakerAmount: "100000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        0,
	}

	sig1, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	sig2, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if sig1 != sig2 {
		t.Error("same order produced different signatures")
	}

	if !strings.HasPrefix(sig1, "0x") {
		t.Fatalf("signature %q missing 0x prefix", sig1)
	}
	raw, err := hex.DecodeString(sig1[2:])
	if err != nil {
		t.Fatalf("signature not hex: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("signature length = %d, want 65", len(raw))
	}
	if v := raw[64]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}

	order.Salt = "54321"
	sig3, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if sig3 == sig1 {
		t.Error("different salt produced identical signature")
	}
}

func TestSignOrderRejectsNonNumericField(t *testing.T) {
	s, err := NewSigner(testPrivateKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	_, err = s.SignOrder(OrderPayload{Salt: "xyz"})
	if err == nil {
		t.Error("SignOrder accepted non-numeric salt")
	}
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testPrivateKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	sig, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("signature not hex: %v", err)
	}
	if len(raw) != 65 {
		t.Errorf("signature length = %d, want 65", len(raw))
	}
}

func TestL2Headers(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))
	auth := &HMACAuth{Key: "key-1", Secret: secret, Passphrase: "pass-1"}

	headers := auth.L2Headers(testAddress, "POST", "/order", `{"order":{}}`)

	for _, k := range []string{"POLY_ADDRESS", "POLY_API_KEY", "POLY_TIMESTAMP", "POLY_PASSPHRASE", "POLY_SIGNATURE"} {
		if headers[k] == "" {
			t.Errorf("header %s missing", k)
		}
	}
	if headers["POLY_ADDRESS"] != testAddress || headers["POLY_API_KEY"] != "key-1" {
		t.Errorf("identity headers wrong: %v", headers)
	}

	// The signature must verify against timestamp+method+path+body.
	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(headers["POLY_TIMESTAMP"] + "POST" + "/order" + `{"order":{}}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if headers["POLY_SIGNATURE"] != want {
		t.Errorf("signature = %s, want %s", headers["POLY_SIGNATURE"], want)
	}
}
