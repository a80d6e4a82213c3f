// Package verifier implements the manifest/artifact verification chain
// from spec.md §4.1: checksum, signature, and policy checks, in that
// order, as a pure function of its inputs. Grounded on
// internal/plugin/signing/signing.go's sha256+ed25519 primitives.
package verifier

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/policy"
)

// SignatureBackend checks a manifest's signature against the artifact's
// digest. Implementations are swappable; none is wired by default (see
// DESIGN.md open question #2).
type SignatureBackend interface {
	Verify(digest [32]byte, signature []byte) error
}

// Ed25519Backend verifies signatures against a fixed set of trusted
// public keys, the same scheme as signing.VerifyBinary.
type Ed25519Backend struct {
	TrustedKeys []ed25519.PublicKey
}

// Verify implements SignatureBackend.
func (b Ed25519Backend) Verify(digest [32]byte, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature: invalid length %d", len(signature))
	}
	for _, key := range b.TrustedKeys {
		if ed25519.Verify(key, digest[:], signature) {
			return nil
		}
	}
	return fmt.Errorf("signature: no matching trusted key")
}

// Verifier runs the checksum/signature/policy chain against a manifest
// and the artifact it describes.
type Verifier struct {
	logger  *slog.Logger
	backend SignatureBackend // optional
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithSignatureBackend wires a SignatureBackend. Without one, a policy
// that requires signatures fails every manifest with SignatureInvalid,
// even one carrying a non-empty signature — there is no default
// algorithm to check it against (DESIGN.md #2).
func WithSignatureBackend(b SignatureBackend) Option {
	return func(v *Verifier) { v.backend = b }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New constructs a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyAll performs, in order: checksum check (if declared), signature
// check (if the policy requires one), and the policy's permission/memory
// check. It is side-effect free other than logging.
func (v *Verifier) VerifyAll(path string, m *manifest.Manifest, p policy.SecurityPolicy) error {
	var digest [32]byte
	haveDigest := false

	if len(m.ChecksumSHA256) > 0 {
		d, err := hashFile(path)
		if err != nil {
			v.logger.Warn("checksum: could not hash artifact", "plugin", m.ID, "path", path, "err", err)
			return pluginerrors.Wrap(pluginerrors.KindChecksumMismatch, m.ID, err)
		}
		digest = d
		haveDigest = true
		if subtle.ConstantTimeCompare(d[:], m.ChecksumSHA256) != 1 {
			v.logger.Warn("checksum mismatch", "plugin", m.ID, "path", path)
			return pluginerrors.New(pluginerrors.KindChecksumMismatch, m.ID)
		}
	}

	if p.RequireSignature {
		if len(m.Signature) == 0 {
			v.logger.Warn("signature required but absent", "plugin", m.ID)
			return pluginerrors.New(pluginerrors.KindSignatureInvalid, m.ID)
		}
		if v.backend == nil {
			v.logger.Warn("signature present but no verification backend configured", "plugin", m.ID)
			return pluginerrors.New(pluginerrors.KindSignatureInvalid, m.ID)
		}
		if !haveDigest {
			d, err := hashFile(path)
			if err != nil {
				return pluginerrors.Wrap(pluginerrors.KindSignatureInvalid, m.ID, err)
			}
			digest = d
		}
		if err := v.backend.Verify(digest, m.Signature); err != nil {
			v.logger.Warn("signature verification failed", "plugin", m.ID, "err", err)
			return pluginerrors.Wrap(pluginerrors.KindSignatureInvalid, m.ID, err)
		}
	}

	if err := p.CheckManifest(m); err != nil {
		v.logger.Warn("policy violation", "plugin", m.ID, "err", err)
		return err
	}

	return nil
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
