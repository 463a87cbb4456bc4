package server

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"

	"github.com/mrz1836/brcwallet/internal/wallet"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// endpoint runs one decoded request against the wallet.
type endpoint func(ctx context.Context, req *request) (any, error)

// bind adapts a wallet operation that takes arguments.
func bind[A, R any](fn func(context.Context, *A, string) (*R, error)) endpoint {
	return func(ctx context.Context, req *request) (any, error) {
		args, err := decode[A](req)
		if err != nil {
			return nil, err
		}
		return fn(ctx, args, req.originator)
	}
}

// bare adapts a wallet operation without arguments. A body, if any, is
// ignored.
func bare[R any](fn func(context.Context, string) (*R, error)) endpoint {
	return func(ctx context.Context, req *request) (any, error) {
		return fn(ctx, req.originator)
	}
}

func decode[A any](req *request) (*A, error) {
	if len(req.body) == 0 {
		return nil, walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "request body required"),
			map[string]string{"operation": req.op})
	}
	args := new(A)
	if err := json.Unmarshal(req.body, args); err != nil {
		var we *walleterr.WalletError
		if !errors.As(err, &we) {
			err = walleterr.WithCause(walleterr.ErrInvalidInput, err)
		}
		return nil, walleterr.WithContext(err, map[string]string{"operation": req.op})
	}
	return args, nil
}

// Operations returns the operation names the server routes, sorted.
func Operations() []string {
	return slices.Sorted(maps.Keys((&Server{}).routeTable()))
}

func (s *Server) routeTable() map[string]endpoint {
	w := s.wallet
	return map[string]endpoint{
		wallet.OpCreateAction:                 s.createAction,
		wallet.OpSignAction:                   bind(w.SignAction),
		wallet.OpAbortAction:                  bind(w.AbortAction),
		wallet.OpListActions:                  bind(w.ListActions),
		wallet.OpInternalizeAction:            bind(w.InternalizeAction),
		wallet.OpListOutputs:                  bind(w.ListOutputs),
		wallet.OpRelinquishOutput:             bind(w.RelinquishOutput),
		wallet.OpGetPublicKey:                 bind(w.GetPublicKey),
		wallet.OpRevealCounterpartyKeyLinkage: bind(w.RevealCounterpartyKeyLinkage),
		wallet.OpRevealSpecificKeyLinkage:     bind(w.RevealSpecificKeyLinkage),
		wallet.OpEncrypt:                      bind(w.Encrypt),
		wallet.OpDecrypt:                      bind(w.Decrypt),
		wallet.OpCreateHMAC:                   bind(w.CreateHMAC),
		wallet.OpVerifyHMAC:                   bind(w.VerifyHMAC),
		wallet.OpCreateSignature:              bind(w.CreateSignature),
		wallet.OpVerifySignature:              bind(w.VerifySignature),
		wallet.OpAcquireCertificate:           bind(w.AcquireCertificate),
		wallet.OpListCertificates:             bind(w.ListCertificates),
		wallet.OpProveCertificate:             bind(w.ProveCertificate),
		wallet.OpRelinquishCertificate:        bind(w.RelinquishCertificate),
		wallet.OpDiscoverByIdentityKey:        bind(w.DiscoverByIdentityKey),
		wallet.OpDiscoverByAttributes:         bind(w.DiscoverByAttributes),
		wallet.OpIsAuthenticated:              bare(w.IsAuthenticated),
		wallet.OpWaitForAuthentication:        bare(w.WaitForAuthentication),
		wallet.OpGetHeight:                    bare(w.GetHeight),
		wallet.OpGetHeaderForHeight:           bind(w.GetHeaderForHeight),
		wallet.OpGetNetwork:                   bare(w.GetNetwork),
		wallet.OpGetVersion:                   bare(w.GetVersion),
	}
}

// createAction charges the action's outputs to the token's spending
// limits before building it, and refunds them when it fails.
func (s *Server) createAction(ctx context.Context, req *request) (any, error) {
	args, err := decode[wallet.CreateActionArgs](req)
	if err != nil {
		return nil, err
	}
	if req.cred == nil {
		return s.wallet.CreateAction(ctx, args, req.originator)
	}

	amount := args.OutputSatoshis()
	if err := s.cfg.Tokens.Reserve(req.cred, req.token, amount); err != nil {
		return nil, walleterr.WithContext(walleterr.WithCause(walleterr.ErrNotAuthenticated, err),
			map[string]string{"token": req.cred.ID})
	}
	res, err := s.wallet.CreateAction(ctx, args, req.originator)
	if err != nil {
		if refundErr := s.cfg.Tokens.Refund(req.cred, req.token, amount); refundErr != nil {
			s.logger.Error("refunding %d sat to %s: %v", amount, req.cred.ID, refundErr)
		}
		return nil, err
	}
	return res, nil
}
