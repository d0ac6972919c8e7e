// Package keymap routes LoRaWAN root key material into the wire fields of
// the ChirpStack device-keys call. The routing depends on the MAC version:
// for 1.0.x devices ChirpStack expects the root AppKey in the nwk_key wire
// field and leaves app_key empty, while 1.1.x devices carry both root keys
// in their same-named fields. The mapping is an explicit per-version rule
// table; nothing here is inferred from the key values themselves.
package keymap

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DevEUILen is the number of hex characters in a DevEUI.
	DevEUILen = 16
	// KeyLen is the number of hex characters in a root key.
	KeyLen = 32
)

var ErrInvalidKeyFormat = errors.New("invalid key format")

// Version is a LoRaWAN MAC version, chosen explicitly by the caller.
type Version string

const (
	LoRaWAN100 Version = "1.0.0"
	LoRaWAN101 Version = "1.0.1"
	LoRaWAN102 Version = "1.0.2"
	LoRaWAN103 Version = "1.0.3"
	LoRaWAN104 Version = "1.0.4"
	LoRaWAN110 Version = "1.1.0"
)

// family describes how a version routes root keys onto the wire.
type family int

const (
	// familySharedSecret: one root key (the AppKey) drives both session
	// keys; ChirpStack stores it in the nwk_key field.
	familySharedSecret family = iota
	// familyDualRoot: distinct NwkKey and AppKey, mapped 1:1.
	familyDualRoot
)

var versionFamilies = map[Version]family{
	LoRaWAN100: familySharedSecret,
	LoRaWAN101: familySharedSecret,
	LoRaWAN102: familySharedSecret,
	LoRaWAN103: familySharedSecret,
	LoRaWAN104: familySharedSecret,
	LoRaWAN110: familyDualRoot,
}

// ParseVersion validates a version string against the rule table.
func ParseVersion(s string) (Version, error) {
	v := Version(strings.TrimSpace(s))
	if _, ok := versionFamilies[v]; !ok {
		return "", fmt.Errorf("unsupported MAC version %q", s)
	}
	return v, nil
}

// Versions lists all supported MAC versions in ascending order.
func Versions() []Version {
	return []Version{LoRaWAN100, LoRaWAN101, LoRaWAN102, LoRaWAN103, LoRaWAN104, LoRaWAN110}
}

// RawKeys holds the logical root keys of a device as extracted from the
// input dataset, before any wire routing.
type RawKeys struct {
	// AppKey is the shared root key ("OTAA key" in most vendor exports).
	AppKey string
	// NwkKey is the network root key, only meaningful for 1.1.x devices.
	NwkKey string
}

// WireKeys are the two slots accepted by the device-keys create call.
type WireKeys struct {
	NwkKey string
	AppKey string
}

// Resolve maps raw keys to wire keys for the given version. It is a pure
// function: identical inputs always produce identical wire keys.
func Resolve(version Version, raw RawKeys) (WireKeys, error) {
	fam, ok := versionFamilies[version]
	if !ok {
		return WireKeys{}, fmt.Errorf("%w: unsupported MAC version %q", ErrInvalidKeyFormat, version)
	}

	switch fam {
	case familySharedSecret:
		appKey, err := NormalizeKey(raw.AppKey)
		if err != nil {
			return WireKeys{}, fmt.Errorf("app key: %w", err)
		}
		// Quirk of the ChirpStack wire schema: for 1.0.x the root AppKey
		// travels in the nwk_key field and app_key stays empty.
		return WireKeys{NwkKey: appKey, AppKey: ""}, nil

	default: // familyDualRoot
		nwkKey, err := NormalizeKey(raw.NwkKey)
		if err != nil {
			return WireKeys{}, fmt.Errorf("nwk key: %w", err)
		}
		appKey, err := NormalizeKey(raw.AppKey)
		if err != nil {
			return WireKeys{}, fmt.Errorf("app key: %w", err)
		}
		return WireKeys{NwkKey: nwkKey, AppKey: appKey}, nil
	}
}

// NormalizeDevEUI strips spaces and dashes, upper-cases and validates a
// 16-character hex DevEUI.
func NormalizeDevEUI(s string) (string, error) {
	return normalizeHex(s, DevEUILen, "DevEUI")
}

// NormalizeKey strips spaces and dashes, upper-cases and validates a
// 32-character hex key.
func NormalizeKey(s string) (string, error) {
	return normalizeHex(s, KeyLen, "key")
}

func normalizeHex(s string, length int, what string) (string, error) {
	cleaned := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s)))
	if cleaned == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidKeyFormat, what)
	}
	if len(cleaned) != length {
		return "", fmt.Errorf("%w: %s must be %d hex characters, got %d", ErrInvalidKeyFormat, what, length, len(cleaned))
	}
	for _, r := range cleaned {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return "", fmt.Errorf("%w: %s contains non-hex character %q", ErrInvalidKeyFormat, what, r)
		}
	}
	return cleaned, nil
}
