package keys

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// LinkageProofSize is the encoded size of a linkage proof: R (33) ‖ S' (33) ‖ z (32).
const LinkageProofSize = 33 + 33 + 32

// ErrInvalidProof is returned for malformed proofs.
var ErrInvalidProof = errors.New("invalid linkage proof")

// LinkageProof proves in zero knowledge that a revealed shared point S was
// computed as a·B where A = a·G is the prover's identity key and B the
// counterparty key.
type LinkageProof struct {
	R      *secp256k1.PublicKey
	SPrime *secp256k1.PublicKey
	Z      secp256k1.ModNScalar
}

// Bytes encodes the proof.
func (p *LinkageProof) Bytes() []byte {
	out := make([]byte, 0, LinkageProofSize)
	out = append(out, p.R.SerializeCompressed()...)
	out = append(out, p.SPrime.SerializeCompressed()...)
	z := p.Z.Bytes()
	return append(out, z[:]...)
}

// ParseLinkageProof decodes a proof produced by Bytes.
func ParseLinkageProof(b []byte) (*LinkageProof, error) {
	if len(b) != LinkageProofSize {
		return nil, ErrInvalidProof
	}
	r, err := secp256k1.ParsePubKey(b[:33])
	if err != nil {
		return nil, ErrInvalidProof
	}
	sPrime, err := secp256k1.ParsePubKey(b[33:66])
	if err != nil {
		return nil, ErrInvalidProof
	}
	proof := &LinkageProof{R: r, SPrime: sPrime}
	if overflow := proof.Z.SetByteSlice(b[66:]); overflow {
		return nil, ErrInvalidProof
	}
	return proof, nil
}

// ProveLinkage returns the shared secret with the counterparty together with
// a proof that it was computed from this wallet's identity key.
func (d *Deriver) ProveLinkage(cp Counterparty) ([]byte, *LinkageProof, error) {
	secret, err := d.RevealCounterpartySecret(cp)
	if err != nil {
		return nil, nil, err
	}
	counterparty, err := d.normalize(cp)
	if err != nil {
		return nil, nil, err
	}
	shared, err := secp256k1.ParsePubKey(secret)
	if err != nil {
		return nil, nil, walleterr.Wrap(err, "parsing shared secret")
	}

	nonce, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, walleterr.Wrap(err, "generating proof nonce")
	}
	defer nonce.Zero()

	r := nonce.PubKey()
	sPrime, err := scalarMult(&nonce.Key, counterparty)
	if err != nil {
		return nil, nil, err
	}

	e := challenge(d.identity, counterparty, shared, sPrime, r)

	// z = r + e·a
	var z secp256k1.ModNScalar
	z.Mul2(&e, &d.root.Key).Add(&nonce.Key)

	return secret, &LinkageProof{R: r, SPrime: sPrime, Z: z}, nil
}

// VerifyLinkage checks that secret = a·counterparty for the prover whose
// identity key is prover.
func VerifyLinkage(prover, counterparty *secp256k1.PublicKey, secret []byte, proof *LinkageProof) bool {
	if prover == nil || counterparty == nil || proof == nil || proof.R == nil || proof.SPrime == nil {
		return false
	}
	shared, err := secp256k1.ParsePubKey(secret)
	if err != nil {
		return false
	}

	e := challenge(prover, counterparty, shared, proof.SPrime, proof.R)

	// z·G == R + e·A
	var zG, aJ, eA, rJ, rhs secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&proof.Z, &zG)
	prover.AsJacobian(&aJ)
	secp256k1.ScalarMultNonConst(&e, &aJ, &eA)
	proof.R.AsJacobian(&rJ)
	secp256k1.AddNonConst(&rJ, &eA, &rhs)
	if !equalPoints(&zG, &rhs) {
		return false
	}

	// z·B == S' + e·S
	var b, zB, sJ, eS, sp, rhs2 secp256k1.JacobianPoint
	counterparty.AsJacobian(&b)
	secp256k1.ScalarMultNonConst(&proof.Z, &b, &zB)
	shared.AsJacobian(&sJ)
	secp256k1.ScalarMultNonConst(&e, &sJ, &eS)
	proof.SPrime.AsJacobian(&sp)
	secp256k1.AddNonConst(&sp, &eS, &rhs2)
	return equalPoints(&zB, &rhs2)
}

func challenge(a, b, s, sPrime, r *secp256k1.PublicKey) secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(a.SerializeCompressed())
	h.Write(b.SerializeCompressed())
	h.Write(s.SerializeCompressed())
	h.Write(sPrime.SerializeCompressed())
	h.Write(r.SerializeCompressed())

	var e secp256k1.ModNScalar
	e.SetByteSlice(h.Sum(nil))
	return e
}

func equalPoints(p1, p2 *secp256k1.JacobianPoint) bool {
	p1.ToAffine()
	p2.ToAffine()
	return p1.X.Equals(&p2.X) && p1.Y.Equals(&p2.Y)
}
