package cryptoutil

import (
	"context"
	"os"
	"strings"
)

const (
	MethodGPG  = "gpg"
	MethodDARE = "dare"

	SuffixGPG  = ".gpg"
	SuffixDARE = ".enc"
)

// Envelope wraps a finished archive file in an encryption layer and removes it again.
type Envelope interface {
	Method() string
	Suffix() string
	// Preflight fails early when a required external tool is missing.
	Preflight() error
	Encrypt(ctx context.Context, src, dst string) error
	Decrypt(ctx context.Context, src, dst string) error
}

// MethodFromName reports which envelope produced name, if any.
func MethodFromName(name string) (string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, SuffixGPG):
		return MethodGPG, true
	case strings.HasSuffix(lower, SuffixDARE):
		return MethodDARE, true
	default:
		return "", false
	}
}

// StripSuffix removes the encryption suffix, leaving the archive suffix chain.
func StripSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, s := range []string{SuffixGPG, SuffixDARE} {
		if strings.HasSuffix(lower, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}

// finish renames tmp to dst on success and removes tmp otherwise.
func finish(tmp, dst string, err error) error {
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
