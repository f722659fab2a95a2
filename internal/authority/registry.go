// Package authority maps municipality codes to their NFS-e endpoints.
package authority

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	appconfig "github.com/smallbiznis/emissor/internal/config"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
)

var ErrUnknownMunicipality = errors.New("unknown_municipality")

// Endpoint is one municipality's submission target per environment.
type Endpoint struct {
	CityCode   string `mapstructure:"cityCode"`
	Name       string `mapstructure:"name"`
	Staging    string `mapstructure:"staging"`
	Production string `mapstructure:"production"`
}

// RegistryConfig is the `authorities` section of authority.yml.
type RegistryConfig struct {
	Endpoints []Endpoint `mapstructure:"endpoints"`
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Endpoints: []Endpoint{
			{
				CityCode:   "3550308",
				Name:       "São Paulo",
				Staging:    "https://homologacao.nfse.prefeitura.sp.gov.br/ws/gerarNfse",
				Production: "https://nfse.prefeitura.sp.gov.br/ws/gerarNfse",
			},
		},
	}
}

// Registry resolves a municipality to its endpoint URL. The backing
// file hot-reloads; reads never block on a reload.
type Registry struct {
	current atomic.Value // holds RegistryConfig
}

func NewRegistry(cfg appconfig.Config) (*Registry, error) {
	v := viper.New()

	v.SetConfigName("authority")
	v.SetConfigType("yml")
	if cfg.AuthorityConfigPath != "" {
		v.AddConfigPath(cfg.AuthorityConfigPath)
	}
	v.AddConfigPath("/var/lib/emissor/config")
	v.AddConfigPath("/etc/emissor")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EMISSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRegistryConfig()
		v.SetDefault("authorities.endpoints", defaults.Endpoints)
	}

	var reg RegistryConfig
	if err := v.UnmarshalKey("authorities", &reg); err != nil {
		return nil, err
	}
	if err := validateRegistryConfig(reg); err != nil {
		return nil, err
	}

	holder := &Registry{}
	holder.current.Store(reg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RegistryConfig
		if err := v.UnmarshalKey("authorities", &updated); err != nil {
			log.Printf("[authority-registry] reload failed: %v", err)
			return
		}
		if err := validateRegistryConfig(updated); err != nil {
			log.Printf("[authority-registry] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[authority-registry] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRegistry builds a registry from a fixed config, for tests
// and for overriding discovery in tools.
func NewStaticRegistry(reg RegistryConfig) (*Registry, error) {
	if err := validateRegistryConfig(reg); err != nil {
		return nil, err
	}
	holder := &Registry{}
	holder.current.Store(reg)
	return holder, nil
}

func (r *Registry) Get() RegistryConfig {
	return r.current.Load().(RegistryConfig)
}

// Resolve returns the submission URL for a municipality in the given
// environment.
func (r *Registry) Resolve(cityCode string, env issuerdomain.Environment) (string, error) {
	for _, ep := range r.Get().Endpoints {
		if ep.CityCode != cityCode {
			continue
		}
		url := ep.Staging
		if env == issuerdomain.EnvironmentProduction {
			url = ep.Production
		}
		if url == "" {
			return "", fmt.Errorf("%w: %s has no %s endpoint", ErrUnknownMunicipality, cityCode, env)
		}
		return url, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownMunicipality, cityCode)
}

func validateRegistryConfig(reg RegistryConfig) error {
	if len(reg.Endpoints) == 0 {
		return errors.New("authorities.endpoints cannot be empty")
	}
	for _, ep := range reg.Endpoints {
		if ep.CityCode == "" {
			return errors.New("authorities.endpoints entries need a cityCode")
		}
	}
	return nil
}
