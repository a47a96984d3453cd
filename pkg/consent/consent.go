// Copyright 2025 Certen Protocol
//
// Consent Gate - Pluggable Out-of-Core Approval for Batch Commits
// The gate is collaborator-defined: the core calls it, records the outcome,
// and refuses to commit on denial. Mirrors the attestation strategy's
// pluggable-signer shape, scoped down to a single approving signer per batch.

package consent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/certen/evidence-ledger/pkg/hashutil"
	"github.com/certen/evidence-ledger/pkg/ledger"
	"github.com/certen/evidence-ledger/pkg/trust"
	"github.com/google/uuid"
)

// ErrNoSigner is returned by NewEd25519Gate when no private key is supplied
// and one cannot be generated.
var ErrNoSigner = errors.New("consent: signer key required")

// Request is what the core hands to a Gate implementation.
type Request struct {
	BatchID string
	Batch   []*ledger.Artifact
	Report  trust.Report
}

// Decision is a Gate's answer to a Request.
type Decision struct {
	Approved      bool
	ConsentID     string
	Signer        string
	SignatureHash string
	Reason        string
}

// Gate is the collaborator interface the core consults before minting. The
// core never imports a specific implementation.
type Gate interface {
	Request(ctx context.Context, req Request) (Decision, error)
}

// signaturePayload builds the canonical value hashed for a decision:
// H(canonical({consent_id, timestamp, signer, [content_hash...]})).
func signaturePayload(consentID string, ts time.Time, signer string, batch []*ledger.Artifact) []byte {
	hashes := make(hashutil.Seq, len(batch))
	for i, a := range batch {
		hashes[i] = hashutil.String(a.ContentHash)
	}
	v := hashutil.Map{
		"consent_id": hashutil.String(consentID),
		"timestamp":  hashutil.Int(ts.UnixNano()),
		"signer":     hashutil.String(signer),
		"hashes":     hashes,
	}
	return hashutil.Canonical(v)
}

// Ed25519Gate is the ledger's default Gate: a single local signer who
// approves or denies each batch deterministically against a policy hook.
type Ed25519Gate struct {
	signer     string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	approve    func(Request) (bool, string) // decision hook; default always-approve
}

// NewEd25519Gate constructs a gate for the named signer. If privateKey is
// nil, a fresh key pair is generated. approve may be nil, in which case
// every request is approved.
func NewEd25519Gate(signer string, privateKey ed25519.PrivateKey, approve func(Request) (bool, string)) (*Ed25519Gate, error) {
	var pub ed25519.PublicKey
	var priv ed25519.PrivateKey
	if len(privateKey) == ed25519.PrivateKeySize {
		priv = privateKey
		pub = priv.Public().(ed25519.PublicKey)
	} else if len(privateKey) != 0 {
		return nil, fmt.Errorf("consent: invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKey))
	} else {
		generatedPub, generatedPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSigner, err)
		}
		priv, pub = generatedPriv, generatedPub
	}

	if approve == nil {
		approve = func(Request) (bool, string) { return true, "" }
	}

	return &Ed25519Gate{signer: signer, privateKey: priv, publicKey: pub, approve: approve}, nil
}

// PublicKey returns the gate's Ed25519 public key. Request does not sign
// with the key pair: a Decision's SignatureHash is the SHA3-256 digest of
// the signature payload, which VerifyDecision recomputes without any key.
func (g *Ed25519Gate) PublicKey() ed25519.PublicKey {
	return g.publicKey
}

// Request implements Gate.
func (g *Ed25519Gate) Request(ctx context.Context, req Request) (Decision, error) {
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	default:
	}

	ok, reason := g.approve(req)
	consentID := uuid.NewString()
	ts := time.Now()

	payload := signaturePayload(consentID, ts, g.signer, req.Batch)
	sigHash := hashutil.HexSum(payload)

	if !ok {
		if reason == "" {
			reason = "denied by consent policy"
		}
		return Decision{Approved: false, ConsentID: consentID, Signer: g.signer, SignatureHash: sigHash, Reason: reason}, nil
	}

	return Decision{Approved: true, ConsentID: consentID, Signer: g.signer, SignatureHash: sigHash}, nil
}

// VerifyDecision recomputes the signature hash for a decision against the
// batch it was issued against and checks it matches.
func VerifyDecision(d Decision, batch []*ledger.Artifact, ts time.Time) bool {
	payload := signaturePayload(d.ConsentID, ts, d.Signer, batch)
	return hashutil.HexSum(payload) == d.SignatureHash
}
