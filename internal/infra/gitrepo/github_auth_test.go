package gitrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/crypto"
	"github.com/repohawk/scanner/pkg/domain/credential"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

type fakeCredRepo struct {
	creds map[string]*credential.Credential
}

func (f *fakeCredRepo) Upsert(_ context.Context, c *credential.Credential) error {
	if f.creds == nil {
		f.creds = make(map[string]*credential.Credential)
	}
	f.creds[c.UserID.String()+"/"+string(c.Kind)] = c
	return nil
}

func (f *fakeCredRepo) GetByUserAndKind(_ context.Context, userID shared.ID, kind credential.Kind, _ string) (*credential.Credential, error) {
	c, ok := f.creds[userID.String()+"/"+string(kind)]
	if !ok {
		return nil, shared.NewDomainError("NOT_FOUND", "credential not found", shared.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCredRepo) Delete(_ context.Context, userID shared.ID, kind credential.Kind, _ string) error {
	delete(f.creds, userID.String()+"/"+string(kind))
	return nil
}

func newTestTokenSource(t *testing.T, repo credential.Repository, enc crypto.Encryptor) *TokenSource {
	t.Helper()
	ts, err := NewTokenSource(&config.GitHubConfig{APIBaseURL: "https://api.github.com"}, repo, enc, logger.NewNop())
	require.NoError(t, err)
	return ts
}

func TestTokenFallsBackToUserCredential(t *testing.T) {
	cipher, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	userID := shared.NewID()
	sealed, err := crypto.Seal(cipher, "gho_usertoken")
	require.NoError(t, err)

	repo := &fakeCredRepo{}
	cred, err := credential.New(userID, credential.KindGitHubOAuth, "", sealed)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), cred))

	ts := newTestTokenSource(t, repo, cipher)
	token, err := ts.Token(context.Background(), AccessRequest{RepoFullName: "acme/widgets", UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, "gho_usertoken", token)
}

func TestTokenNoCredential(t *testing.T) {
	ts := newTestTokenSource(t, &fakeCredRepo{}, crypto.NewNoOpEncryptor())

	_, err := ts.Token(context.Background(), AccessRequest{RepoFullName: "acme/widgets", UserID: shared.NewID()})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestTokenUndecryptableCredentialIsNoCredential(t *testing.T) {
	goodCipher, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	otherCipher, err := crypto.NewCipher([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	userID := shared.NewID()
	sealed, err := crypto.Seal(otherCipher, "gho_usertoken")
	require.NoError(t, err)

	repo := &fakeCredRepo{}
	cred, err := credential.New(userID, credential.KindGitHubOAuth, "", sealed)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), cred))

	// key rotated: the stored blob no longer decrypts
	ts := newTestTokenSource(t, repo, goodCipher)
	_, err = ts.Token(context.Background(), AccessRequest{RepoFullName: "acme/widgets", UserID: userID})
	assert.ErrorIs(t, err, ErrNoCredential)
}
