package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voting-core/registry"
)

func TestRegisterVoter(t *testing.T) {
	env := newTestEnv(t)

	identity, err := env.service.RegisterVoter("123456789012", registry.MockOTP)
	require.NoError(t, err)
	require.NotNil(t, identity.PrivateKey)
	assert.True(t, identity.PublicKey.Equal(identity.PrivateKey.Public()))
	assert.Equal(t, registry.DeriveHandle("123456789012", "test"), identity.Handle)

	ok, err := env.store.HasVoterKey(identity.PublicKey.Bytes())
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := env.store.GetVoter(identity.Handle)
	require.NoError(t, err)
	assert.Equal(t, identity.PublicKey.Bytes(), stored.PublicKey)
}

func TestRegisterVoterRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct {
		name string
		id   string
		code string
	}{
		{"wrong code", "123456789012", "654321"},
		{"short id", "12345", registry.MockOTP},
		{"letters in id", "12345678901a", registry.MockOTP},
		{"empty", "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.RegisterVoter(tc.id, tc.code)
			assert.ErrorIs(t, err, ErrNotEligible)
		})
	}

	keys, err := env.store.VoterPublicKeys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRegisterVoterTwice(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.RegisterVoter("123456789012", registry.MockOTP)
	require.NoError(t, err)

	_, err = env.service.RegisterVoter("123456789012", registry.MockOTP)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	keys, err := env.store.VoterPublicKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRegisterVoterHonoursRoster(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.oracle.AddCitizen(&registry.Citizen{ID: "111111111111", Name: "Active", IsActive: true}))
	require.NoError(t, env.oracle.AddCitizen(&registry.Citizen{ID: "222222222222", Name: "Struck off"}))

	_, err := env.service.RegisterVoter("111111111111", registry.MockOTP)
	assert.NoError(t, err)

	_, err = env.service.RegisterVoter("222222222222", registry.MockOTP)
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = env.service.RegisterVoter("333333333333", registry.MockOTP)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestRequestOTPThenRegister(t *testing.T) {
	env := newTestEnv(t)

	code, err := env.service.RequestOTP("123456789012")
	require.NoError(t, err)
	assert.Equal(t, 1, env.oracle.OTPsIssued("123456789012"))

	identity, err := env.service.RegisterVoter("123456789012", code)
	require.NoError(t, err)
	assert.NotEmpty(t, identity.Handle)

	_, err = env.service.RequestOTP("12345")
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.ErrorIs(t, err, registry.ErrInvalidID)
}

func TestRequestOTPRespectsRoster(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.oracle.AddCitizen(&registry.Citizen{ID: "111111111111", IsActive: true}))
	require.NoError(t, env.oracle.AddCitizen(&registry.Citizen{ID: "222222222222"}))

	_, err := env.service.RequestOTP("111111111111")
	assert.NoError(t, err)

	_, err = env.service.RequestOTP("222222222222")
	assert.ErrorIs(t, err, registry.ErrUnknownID)

	_, err = env.service.RequestOTP("333333333333")
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Zero(t, env.oracle.OTPsIssued("333333333333"))
}
