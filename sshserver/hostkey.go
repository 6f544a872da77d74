package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// EnsureHostKey returns the ed25519 host key at path, generating it on first
// use. An existing key is never overwritten. created reports whether the key
// was generated by this call.
func EnsureHostKey(path string) (signer ssh.Signer, created bool, err error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false, errors.New("ssh host key path is required")
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode().Perm()&0o077 != 0 {
			return nil, false, fmt.Errorf("host key %s is accessible by other users (mode %s)", path, info.Mode().Perm())
		}
		signer, err = readHostKey(path)
		return signer, false, err
	case !os.IsNotExist(err):
		return nil, false, fmt.Errorf("stat host key: %w", err)
	}
	signer, err = writeHostKey(path)
	if err != nil {
		return nil, false, err
	}
	return signer, true, nil
}

// Fingerprint formats the SHA256 fingerprint of signer's public key.
func Fingerprint(signer ssh.Signer) string {
	if signer == nil {
		return ""
	}
	return ssh.FingerprintSHA256(signer.PublicKey())
}

func writeHostKey(path string) (ssh.Signer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "wobterm gateway")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := pem.Encode(file, block); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("encode host key: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

func readHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return signer, nil
}
