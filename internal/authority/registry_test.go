package authority

import (
	"testing"

	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PicksEnvironmentURL(t *testing.T) {
	reg, err := NewStaticRegistry(RegistryConfig{Endpoints: []Endpoint{
		{CityCode: "3550308", Staging: "https://stg.example/ws", Production: "https://prd.example/ws"},
	}})
	require.NoError(t, err)

	url, err := reg.Resolve("3550308", issuerdomain.EnvironmentStaging)
	require.NoError(t, err)
	assert.Equal(t, "https://stg.example/ws", url)

	url, err = reg.Resolve("3550308", issuerdomain.EnvironmentProduction)
	require.NoError(t, err)
	assert.Equal(t, "https://prd.example/ws", url)
}

func TestResolve_UnknownMunicipality(t *testing.T) {
	reg, err := NewStaticRegistry(DefaultRegistryConfig())
	require.NoError(t, err)

	_, err = reg.Resolve("9999999", issuerdomain.EnvironmentStaging)
	assert.ErrorIs(t, err, ErrUnknownMunicipality)
}

func TestResolve_MissingEnvironmentEndpoint(t *testing.T) {
	reg, err := NewStaticRegistry(RegistryConfig{Endpoints: []Endpoint{
		{CityCode: "3106200", Staging: "https://stg.example/ws"},
	}})
	require.NoError(t, err)

	_, err = reg.Resolve("3106200", issuerdomain.EnvironmentProduction)
	assert.ErrorIs(t, err, ErrUnknownMunicipality)
}

func TestNewStaticRegistry_RejectsEmpty(t *testing.T) {
	_, err := NewStaticRegistry(RegistryConfig{})
	assert.Error(t, err)
}
