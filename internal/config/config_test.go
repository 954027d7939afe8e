package config

import "testing"

func validConfig() *Config {
	return &Config{
		Approvers: []string{"boss@example.com"},
		Services:  map[string]string{"web": "web servers"},
		Pool:      PoolConfig{Start: "10.0.0.1", Size: 16},
		Credential: CredentialConfig{
			DownloadURL: "https://vpn.example.com/keys/{requester}/{credential_id}.zip",
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no approvers", func(c *Config) { c.Approvers = nil }},
		{"no services", func(c *Config) { c.Services = nil }},
		{"no pool start", func(c *Config) { c.Pool.Start = "" }},
		{"zero pool size", func(c *Config) { c.Pool.Size = 0 }},
		{"missing requester placeholder", func(c *Config) { c.Credential.DownloadURL = "https://x/{credential_id}" }},
		{"missing credential placeholder", func(c *Config) { c.Credential.DownloadURL = "https://x/{requester}" }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
