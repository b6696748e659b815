package cryptoutil

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/sio"
	"golang.org/x/crypto/scrypt"

	"github.com/rowjay/site-backup/internal/errs"
)

const (
	dareMagic = "SBUD"

	dareModePassphrase = byte(1)
	dareModeKey        = byte(2)

	dareSaltSize = 16
)

// DARE encrypts archives natively with sio (AES-256-GCM / ChaCha20-Poly1305
// packages). The key is either a raw 32-byte key or derived from a
// passphrase with scrypt; the salt and mode live in a small header.
type DARE struct {
	Key        []byte
	Passphrase string
}

func (d DARE) Method() string { return MethodDARE }

func (d DARE) Suffix() string { return SuffixDARE }

func (d DARE) Preflight() error {
	if len(d.Key) == 0 && d.Passphrase == "" {
		return errs.Configuration("dare encryption requires a key or passphrase")
	}
	if len(d.Key) != 0 && len(d.Key) != 32 {
		return errs.Configuration("dare key must be 32 bytes, got %d", len(d.Key))
	}
	return nil
}

func (d DARE) Encrypt(_ context.Context, src, dst string) error {
	if err := d.Preflight(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return errs.Resource("open archive for encryption", err)
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.Resource("create encrypted archive", err)
	}
	err = d.encryptStream(out, in)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errs.Resource("close encrypted archive", cerr)
	}
	return finish(tmp, dst, err)
}

func (d DARE) encryptStream(out io.Writer, in io.Reader) error {
	mode := dareModeKey
	salt := make([]byte, dareSaltSize)
	if len(d.Key) == 0 {
		mode = dareModePassphrase
		if _, err := rand.Read(salt); err != nil {
			return errs.Resource("generate salt", err)
		}
	}
	key, err := d.key(mode, salt)
	if err != nil {
		return err
	}
	header := append([]byte(dareMagic), mode)
	header = append(header, salt...)
	if _, err := out.Write(header); err != nil {
		return errs.Resource("write encryption header", err)
	}
	if _, err := sio.Encrypt(out, in, sio.Config{Key: key}); err != nil {
		return errs.Resource("encrypt archive", err)
	}
	return nil
}

func (d DARE) Decrypt(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Resource("open encrypted archive", err)
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errs.Resource("create decrypted archive", err)
	}
	err = d.decryptStream(out, bufio.NewReader(in))
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errs.Resource("close decrypted archive", cerr)
	}
	return finish(tmp, dst, err)
}

func (d DARE) decryptStream(out io.Writer, in io.Reader) error {
	header := make([]byte, len(dareMagic)+1+dareSaltSize)
	if _, err := io.ReadFull(in, header); err != nil {
		return errs.Integrity("encrypted archive header is truncated")
	}
	if string(header[:len(dareMagic)]) != dareMagic {
		return errs.Integrity("not a valid encrypted archive")
	}
	mode := header[len(dareMagic)]
	key, err := d.key(mode, header[len(dareMagic)+1:])
	if err != nil {
		return err
	}
	if _, err := sio.Decrypt(out, in, sio.Config{Key: key}); err != nil {
		var se sio.Error
		if errors.As(err, &se) {
			return errs.Integrity("decryption failed: wrong passphrase or key, or the archive is corrupted")
		}
		return errs.New(errs.KindIntegrity, "decryption failed", err)
	}
	return nil
}

func (d DARE) key(mode byte, salt []byte) ([]byte, error) {
	switch mode {
	case dareModeKey:
		if len(d.Key) != 32 {
			return nil, errs.Configuration("archive was encrypted with a raw key; an encryption key is required")
		}
		return d.Key, nil
	case dareModePassphrase:
		if d.Passphrase == "" {
			return nil, errs.Configuration("archive was encrypted with a passphrase; a passphrase is required")
		}
		key, err := scrypt.Key([]byte(d.Passphrase), salt, 1<<15, 8, 1, 32)
		if err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
		return key, nil
	default:
		return nil, errs.Integrity("unknown encryption mode %d", mode)
	}
}
