package app

import (
	"sort"
	"strings"
	"time"

	"github.com/lordvitaly/lvchat/internal/database"
	"github.com/lordvitaly/lvchat/internal/services"
	"github.com/lordvitaly/lvchat/internal/store"
)

// Storage drivers.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StorageBolt     = "bolt"
	StorageDatabase = "database"
)

// StorageConfig selects the record backend and namespace lifetimes.
type StorageConfig struct {
	Driver     string                     `mapstructure:"driver"`
	Path       string                     `mapstructure:"path"`
	Bolt       BoltConfig                 `mapstructure:"bolt"`
	Sweep      SweepConfig                `mapstructure:"sweep"`
	Namespaces map[string]NamespaceConfig `mapstructure:"namespaces"`
}

// BoltConfig locates the bbolt database file.
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// SweepConfig controls periodic and opportunistic reclamation.
type SweepConfig struct {
	// Schedule is a cron spec; empty disables the periodic sweep.
	Schedule         string        `mapstructure:"schedule"`
	PreWriteInterval time.Duration `mapstructure:"pre_write_interval"`
}

// NamespaceConfig overrides the lifetime of one namespace.
type NamespaceConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// EmbeddedExpiry overrides whether values may carry their own expires_at.
	EmbeddedExpiry *bool `mapstructure:"embedded_expiry"`
}

// NormalisedDriver returns the lower-cased driver, defaulting to file.
func (c StorageConfig) NormalisedDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return StorageFile
	}
	return driver
}

// Policies merges the configured lifetimes into the built-in namespace
// policies. Namespaces only present in the config are appended in name order.
// Expiring namespaces get the pre-write sweep.
func (c StorageConfig) Policies() []store.Policy {
	policies := services.DefaultPolicies(c.Sweep.PreWriteInterval)
	known := make(map[string]struct{}, len(policies))

	for i := range policies {
		known[policies[i].Name] = struct{}{}
		if ns, ok := c.Namespaces[policies[i].Name]; ok {
			applyNamespaceConfig(&policies[i], ns, c.Sweep.PreWriteInterval)
		}
	}

	extra := make([]string, 0)
	for name := range c.Namespaces {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		policy := store.Policy{Name: name}
		applyNamespaceConfig(&policy, c.Namespaces[name], c.Sweep.PreWriteInterval)
		policies = append(policies, policy)
	}

	return policies
}

func applyNamespaceConfig(policy *store.Policy, ns NamespaceConfig, interval time.Duration) {
	policy.TTL = ns.TTL
	policy.StaleAfter = ns.StaleAfter
	if ns.EmbeddedExpiry != nil {
		policy.EmbeddedExpiry = *ns.EmbeddedExpiry
	}
	policy.SweepInterval = 0
	if ns.TTL > 0 {
		policy.SweepInterval = interval
	}
}

// StoreOptions returns the backend options implied by the namespace policies.
func (c StorageConfig) StoreOptions() []store.Option {
	return []store.Option{
		store.WithEmbeddedExpiry(store.EmbeddedExpiryNamespaces(c.Policies()...)...),
	}
}

// ConnectionConfig converts the database section into database.Config.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var auth *DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite", "sqlite3":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = &c.Postgres
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		auth = &c.MySQL
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	if auth != nil {
		dbCfg.Host = strings.TrimSpace(auth.Host)
		dbCfg.Port = auth.Port
		dbCfg.Name = strings.TrimSpace(auth.Database)
		dbCfg.User = strings.TrimSpace(auth.Username)
		dbCfg.Password = auth.Password
		dbCfg.Options = auth.Options
	}

	return dbCfg
}
