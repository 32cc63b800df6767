package ndkports

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/term"
)

// verifyDetachedSignature checks an armored detached signature over data
// against the armored keyring at keyringPath. When fingerprint is set the
// signer's primary key must match it.
func verifyDetachedSignature(keyringPath, fingerprint string, data, sig io.Reader) error {
	kf, err := os.Open(keyringPath)
	if err != nil {
		return fmt.Errorf("trusted keyring unavailable: %w", err)
	}
	defer kf.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(kf)
	if err != nil {
		return fmt.Errorf("failed to read keyring %s: %w", keyringPath, err)
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, data, sig)
	if err != nil {
		return err
	}
	if fingerprint != "" {
		got := hex.EncodeToString(signer.PrimaryKey.Fingerprint[:])
		want := strings.ToLower(strings.ReplaceAll(fingerprint, " ", ""))
		if got != want {
			return fmt.Errorf("signed by %s, expected %s", strings.ToUpper(got), strings.ToUpper(want))
		}
	}
	return nil
}

// PGPSigner produces armored detached signatures for published files.
type PGPSigner struct {
	entity *openpgp.Entity
}

// LoadPGPSigner reads an armored private key and unlocks it. Every failure
// is a *SigningError.
func LoadPGPSigner(keyPath, passphrase string) (*PGPSigner, error) {
	if keyPath == "" {
		return nil, &SigningError{Err: errors.New("no signing key configured (set NDKPORTS_SIGNING_KEY)")}
	}
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("private key not found at %s", keyPath)}
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("failed to read private key %s: %w", keyPath, err)}
	}
	var entity *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, &SigningError{Err: fmt.Errorf("%s contains no private key", keyPath)}
	}

	if entity.PrivateKey.Encrypted {
		if passphrase == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Print("Enter signing key passphrase: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return nil, &SigningError{Err: err}
			}
			passphrase = string(raw)
		}
		if passphrase == "" {
			return nil, &SigningError{Err: errors.New("signing key is encrypted and no passphrase was given")}
		}
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, &SigningError{Err: fmt.Errorf("failed to unlock signing key: %w", err)}
		}
		for _, sub := range entity.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				_ = sub.PrivateKey.Decrypt([]byte(passphrase))
			}
		}
	}
	return &PGPSigner{entity: entity}, nil
}

// Fingerprint is the signer's primary key fingerprint in upper-case hex.
func (s *PGPSigner) Fingerprint() string {
	return strings.ToUpper(hex.EncodeToString(s.entity.PrimaryKey.Fingerprint[:]))
}

// SignFile writes path+".asc".
func (s *PGPSigner) SignFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, s.entity, in, nil); err != nil {
		return &SigningError{Err: fmt.Errorf("failed to sign %s: %w", path, err)}
	}
	sig.WriteString("\n")
	return writeFileAtomic(path+".asc", sig.Bytes(), 0o644)
}

// GenerateKeyPair generates an Ed25519 key pair for signing the repository
// index and saves it as hex under dir.
func GenerateKeyPair(dir, id string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate key pair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	privPath := filepath.Join(dir, id+".key")
	pubPath := filepath.Join(dir, id+".pub")
	if exists(privPath) {
		return "", fmt.Errorf("refusing to overwrite existing key %s", privPath)
	}

	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return "", fmt.Errorf("failed to save private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return "", fmt.Errorf("failed to save public key: %w", err)
	}
	return pubPath, nil
}

// loadIndexKey loads a hex-encoded Ed25519 private key.
func loadIndexKey(keyPath string) (ed25519.PrivateKey, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("private key not found at %s", keyPath)}
	}
	trimmedKey := strings.TrimSpace(string(keyData))
	if len(trimmedKey) != 128 {
		return nil, &SigningError{Err: fmt.Errorf("invalid private key format at %s (expected 128 hex chars, got %d)", keyPath, len(trimmedKey))}
	}
	decoded, err := hex.DecodeString(trimmedKey)
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("invalid private key format at %s: %w", keyPath, err)}
	}
	return ed25519.PrivateKey(decoded), nil
}

// SignRepoIndex signs the repo-index.json data, returning a hex signature.
func SignRepoIndex(indexData []byte, key ed25519.PrivateKey) []byte {
	signature := ed25519.Sign(key, indexData)
	return []byte(hex.EncodeToString(signature))
}

// VerifySignatureRaw verifies a hex signature against public key bytes.
func VerifySignatureRaw(data, sigHex, pubKeyBytes []byte) error {
	signature, err := hex.DecodeString(strings.TrimSpace(string(sigHex)))
	if err != nil {
		return fmt.Errorf("invalid signature format: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key length %d", len(pubKeyBytes))
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKeyBytes), data, signature) {
		return errors.New("signature verification failed")
	}
	return nil
}
