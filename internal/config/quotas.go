package config

// QuotasConfig holds per-tenant window limits loaded from quotas.yaml.
// Tenants not listed fall back to quota.default_limit; an explicit zero
// blocks the tenant outright.
type QuotasConfig struct {
	Tenants map[string]int `yaml:"tenants"`
}
