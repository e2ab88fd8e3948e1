package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Credential sources, in resolution order.
const (
	SourceInlineJSON  = "inline-json"
	SourceBase64JSON  = "base64-json"
	SourceFile        = "file"
	SourceDefaultFile = "default-file"
)

// ErrNoCredentials is returned when no credential source yields usable JSON.
var ErrNoCredentials = errors.New("no document store credentials configured")

// MirrorCredentials is a resolved service-account credential.
type MirrorCredentials struct {
	JSON   []byte
	Source string
	Path   string
}

// ResolveMirrorCredentials picks the first valid credential source:
// inline JSON, base64 JSON, explicit file path, default file path.
// It reads files but never writes any.
func ResolveMirrorCredentials(m Mirror) (MirrorCredentials, error) {
	if raw := strings.TrimSpace(m.CredentialsJSON); raw != "" {
		if json.Valid([]byte(raw)) {
			return MirrorCredentials{JSON: []byte(raw), Source: SourceInlineJSON}, nil
		}
		// FIREBASE_CREDENTIALS_JSON historically also carried base64.
		if decoded, ok := decodeBase64JSON(raw); ok {
			return MirrorCredentials{JSON: decoded, Source: SourceBase64JSON}, nil
		}
	}
	if raw := strings.TrimSpace(m.CredentialsB64); raw != "" {
		if decoded, ok := decodeBase64JSON(raw); ok {
			return MirrorCredentials{JSON: decoded, Source: SourceBase64JSON}, nil
		}
	}
	if m.CredentialsPath != "" {
		if data, ok := readJSONFile(m.CredentialsPath); ok {
			return MirrorCredentials{JSON: data, Source: SourceFile, Path: m.CredentialsPath}, nil
		}
	}
	if m.DefaultCredentialsPath != "" {
		if data, ok := readJSONFile(m.DefaultCredentialsPath); ok {
			return MirrorCredentials{JSON: data, Source: SourceDefaultFile, Path: m.DefaultCredentialsPath}, nil
		}
	}
	return MirrorCredentials{}, ErrNoCredentials
}

func decodeBase64JSON(s string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding} {
		decoded, err := enc.DecodeString(s)
		if err == nil && json.Valid(decoded) {
			return decoded, true
		}
	}
	return nil, false
}

func readJSONFile(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		return nil, false
	}
	return data, true
}
