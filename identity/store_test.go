package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/mrtchat/errs"
	"github.com/sage-x-project/mrtchat/kv/memkv"
)

func TestExtractName(t *testing.T) {
	cases := map[string]string{
		"alice":            "alice",
		"alice|pubkey123":  "alice",
		"alice(5)":         "alice",
		"alice(5)|pubkey":  "alice",
		"  alice  ":        "alice",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractName(in), in)
	}
}

func TestExtractName_RoundTrip(t *testing.T) {
	x := "bob(3)"
	composed := ExtractName(x) + "|k" + "(5)"
	assert.Equal(t, ExtractName(x), ExtractName(composed))
}

func TestStore_SaveRejectsDuplicateKeyBinding(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, memkv.New())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "alice", "k1"))
	err = s.Save(ctx, "mallory", "k1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KeyAlreadyBound))
}

func TestStore_SaveSameNameSameKeyIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, memkv.New())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "alice", "k1"))
	require.NoError(t, s.Save(ctx, "alice", "k1"))
}

func TestStore_RemoveThenRebind(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, memkv.New())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "alice", "k1"))
	require.NoError(t, s.Remove(ctx, "alice"))
	require.NoError(t, s.Save(ctx, "mallory", "k1"))

	key, ok := s.Lookup("mallory")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
}

func TestStore_PersistsAcrossLoad(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	s1, err := New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, "alice", "k1"))

	s2, err := New(ctx, store)
	require.NoError(t, err)
	key, ok := s2.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
}

func TestStore_ExcludesAnonNamesOnLoad(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	require.NoError(t, store.Set(ctx, "knownHostsStrings", `{"anon123":"k1","alice":"k2"}`))

	s, err := New(ctx, store)
	require.NoError(t, err)
	_, ok := s.Lookup("anon123")
	assert.False(t, ok)
	_, ok = s.Lookup("alice")
	assert.True(t, ok)
}

func TestKeyPair_SignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("challenge bytes")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, kp.Verify(msg, sig))

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	err = kp.Verify(msg, tampered)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.SignatureInvalid))
}

func TestKeyPair_JWKRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	jwk, err := MarshalJWK(kp.ExportJWK())
	require.NoError(t, err)

	imported, err := ImportKeyPair(jwk)
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, imported.Verify(msg, sig))
}
