package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-bid-engine/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
discord:
  token: "test-token"
  guild_id: "123456"
database:
  host: "db.example.com"
  port: 5433
  user: "bidengine"
  password: "secret"
  dbname: "auctions"
  sslmode: "require"
  driver: "postgres"
  migrate: true
server:
  port: 9090
telemetry:
  service_name: "my-engine"
  otlp_endpoint: "localhost:4318"
resolver:
  settle_delay: 250ms
  pass_timeout: 5s
broadcast:
  channel_id: "987"
outcome_cache_size: 16
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Discord.Token != "test-token" {
					t.Errorf("got token %q, want %q", cfg.Discord.Token, "test-token")
				}
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if !cfg.Database.Migrate {
					t.Error("expected migrate to be enabled")
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Resolver.SettleDelay != 250*time.Millisecond {
					t.Errorf("got settle delay %v, want 250ms", cfg.Resolver.SettleDelay)
				}
				if cfg.Broadcast.ChannelID != "987" {
					t.Errorf("got channel %q, want %q", cfg.Broadcast.ChannelID, "987")
				}
				if cfg.OutcomeCacheSize != 16 {
					t.Errorf("got outcome cache size %d, want 16", cfg.OutcomeCacheSize)
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
discord:
  token: "tok"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Database.Host, "localhost")
				}
				if cfg.Database.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "postgres")
				}
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.Telemetry.ServiceName != "bidengine" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "bidengine")
				}
				if cfg.Resolver.SettleDelay != time.Second {
					t.Errorf("got settle delay %v, want 1s", cfg.Resolver.SettleDelay)
				}
				if cfg.OutcomeCacheSize != 1024 {
					t.Errorf("got outcome cache size %d, want 1024", cfg.OutcomeCacheSize)
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "memory driver accepted",
			yaml: `
database:
  driver: "memory"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "memory" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "memory")
				}
			},
		},
		{
			name: "invalid driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "zero settle delay accepted",
			yaml: `
resolver:
  settle_delay: 0s
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Resolver.SettleDelay != 0 {
					t.Errorf("got settle delay %v, want 0", cfg.Resolver.SettleDelay)
				}
			},
		},
		{
			name: "negative settle delay rejected",
			yaml: `
resolver:
  settle_delay: -1s
`,
			wantErr: true,
		},
		{
			name: "zero pass timeout rejected",
			yaml: `
resolver:
  pass_timeout: 0s
`,
			wantErr: true,
		},
		{
			name: "zero outcome cache rejected",
			yaml: `
outcome_cache_size: 0
`,
			wantErr: true,
		},
		{
			name: "broadcast channel without token rejected",
			yaml: `
broadcast:
  channel_id: "987"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := config.DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "auctions", SSLMode: "disable",
	}
	want := "host=db port=5432 user=u password=p dbname=auctions sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
