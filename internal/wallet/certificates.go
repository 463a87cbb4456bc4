package wallet

import (
	"context"

	"github.com/mrz1836/brcwallet/internal/certs"
)

// AcquireCertificate stores a certificate handed over directly or issued by
// a certifier.
func (w *Wallet) AcquireCertificate(ctx context.Context, args *certs.AcquireRequest, originator string) (*certs.Certificate, error) {
	return run(ctx, w, OpAcquireCertificate, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *certs.AcquireRequest) (*certs.Certificate, error) {
			return st.registry.Acquire(ctx, a)
		}))
}

// ListCertificates pages through held certificates filtered by certifier
// and type.
func (w *Wallet) ListCertificates(ctx context.Context, args *certs.ListRequest, originator string) (*certs.ListResult, error) {
	return run(ctx, w, OpListCertificates, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *certs.ListRequest) (*certs.ListResult, error) {
			return st.registry.List(a)
		}))
}

// ProveCertificate builds a keyring that lets a verifier decrypt the chosen
// fields.
func (w *Wallet) ProveCertificate(ctx context.Context, args *certs.ProveRequest, originator string) (*certs.ProveResult, error) {
	return run(ctx, w, OpProveCertificate, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *certs.ProveRequest) (*certs.ProveResult, error) {
			return st.registry.Prove(a)
		}))
}

// RelinquishCertificate deletes a held certificate.
func (w *Wallet) RelinquishCertificate(ctx context.Context, args *certs.Key, originator string) (*RelinquishResult, error) {
	return run(ctx, w, OpRelinquishCertificate, originator, args, locked(w,
		func(_ context.Context, st *keyState, a *certs.Key) (*RelinquishResult, error) {
			if err := st.registry.Relinquish(*a); err != nil {
				return nil, err
			}
			return &RelinquishResult{Relinquished: true}, nil
		}))
}

// DiscoverByIdentityKey asks the discovery services for certificates about
// an identity key.
func (w *Wallet) DiscoverByIdentityKey(ctx context.Context, args *certs.DiscoverByIdentityRequest, originator string) (*certs.DiscoverResult, error) {
	return run(ctx, w, OpDiscoverByIdentityKey, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *certs.DiscoverByIdentityRequest) (*certs.DiscoverResult, error) {
			return st.registry.DiscoverByIdentity(ctx, a)
		}))
}

// DiscoverByAttributes asks the discovery services for certificates with
// matching publicly revealed fields.
func (w *Wallet) DiscoverByAttributes(ctx context.Context, args *certs.DiscoverByAttributesRequest, originator string) (*certs.DiscoverResult, error) {
	return run(ctx, w, OpDiscoverByAttributes, originator, args, locked(w,
		func(ctx context.Context, st *keyState, a *certs.DiscoverByAttributesRequest) (*certs.DiscoverResult, error) {
			return st.registry.DiscoverByAttributes(ctx, a)
		}))
}
