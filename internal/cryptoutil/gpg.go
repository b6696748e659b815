package cryptoutil

import (
	"context"
	"io"
	"strings"

	"github.com/rowjay/site-backup/internal/errs"
	"github.com/rowjay/site-backup/internal/util"
)

// GPG encrypts with the gpg binary, either to a recipient key or symmetrically
// with a passphrase. Passphrases are handed over on stdin, never as arguments.
type GPG struct {
	Binary     string
	Recipient  string
	Passphrase string
	Homedir    string
}

func (g GPG) Method() string { return MethodGPG }

func (g GPG) Suffix() string { return SuffixGPG }

func (g GPG) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "gpg"
}

func (g GPG) Preflight() error {
	return util.RequireBinary(g.binary())
}

func (g GPG) Encrypt(ctx context.Context, src, dst string) error {
	if g.Recipient == "" && g.Passphrase == "" {
		return errs.Configuration("symmetric gpg encryption requires a passphrase")
	}
	tmp := dst + ".partial"
	args := g.baseArgs(tmp)
	var stdin io.Reader
	if g.Recipient != "" {
		args = append(args, "--trust-model", "always", "--recipient", g.Recipient, "--encrypt")
	} else {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-fd", "0", "--symmetric")
		stdin = strings.NewReader(g.Passphrase)
	}
	args = append(args, src)
	err := util.Run(util.Command(ctx, g.binary(), args, nil), stdin)
	return finish(tmp, dst, errs.Wrap(errs.KindTool, "gpg encryption failed", err))
}

func (g GPG) Decrypt(ctx context.Context, src, dst string) error {
	tmp := dst + ".partial"
	args := g.baseArgs(tmp)
	var stdin io.Reader
	if g.Passphrase != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-fd", "0")
		stdin = strings.NewReader(g.Passphrase)
	}
	args = append(args, "--decrypt", src)
	err := util.Run(util.Command(ctx, g.binary(), args, nil), stdin)
	return finish(tmp, dst, errs.Wrap(errs.KindTool, "gpg decryption failed", err))
}

func (g GPG) baseArgs(output string) []string {
	args := []string{"--batch", "--yes", "--quiet"}
	if g.Homedir != "" {
		args = append(args, "--homedir", g.Homedir)
	}
	return append(args, "--output", output)
}
