package repoaccess

import (
	"context"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/forge"
)

// ClientFactory mints an authenticated forge.Client once access has
// been checked. It wraps a forge.TokenMinter plus whatever base URL
// the Forge deployment uses.
type ClientFactory struct {
	minter  forge.TokenMinter
	baseURL string
}

// NewClientFactory builds a ClientFactory.
func NewClientFactory(minter forge.TokenMinter, baseURL string) *ClientFactory {
	return &ClientFactory{minter: minter, baseURL: baseURL}
}

// WithAuthenticatedClient checks access for (owner, repo, branch,
// path), then mints a fresh installation token, then returns a
// forge.Client scoped to it. The token never reaches the caller —
// only the pre-scoped client does; the token is never handed to the
// caller.
func (p *Policy) WithAuthenticatedClient(ctx context.Context, cf *ClientFactory, owner, repo, branch, path string) (forge.Client, error) {
	if err := p.RequireAccess(ctx, owner, repo, branch, path); err != nil {
		return nil, err
	}
	token, _, err := cf.minter.InstallationToken(ctx, owner, repo)
	if err != nil {
		return nil, afu9err.New(afu9err.CodePolicyConfigError, "mint installation token: "+err.Error())
	}
	return forge.NewHTTPClient(cf.baseURL, token), nil
}
