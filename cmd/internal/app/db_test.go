package app

import (
	"strings"
	"testing"
	"time"
)

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		cfg          Config
		wantMax      int32
		wantMin      int32
		wantLifetime time.Duration
		wantAppName  string
	}{
		{
			name:         "bouncer settings",
			cfg:          Config{DatabaseURL: "postgres://u:p@db:5432/bouncer", DBMaxConns: 4, DBMinConns: 1, DBMaxConnLifetime: 30 * time.Minute},
			wantMax:      4,
			wantMin:      1,
			wantLifetime: 30 * time.Minute,
			wantAppName:  "bouncer",
		},
		{
			name:         "min clamped to max",
			cfg:          Config{DatabaseURL: "postgres://u:p@db:5432/bouncer", DBMaxConns: 2, DBMinConns: 8, DBMaxConnLifetime: time.Hour},
			wantMax:      2,
			wantMin:      2,
			wantLifetime: time.Hour,
			wantAppName:  "bouncer",
		},
		{
			name:         "dsn application_name wins",
			cfg:          Config{DatabaseURL: "postgresql://u:p@db:5432/bouncer?application_name=ops&pool_max_conns=7&pool_max_conn_lifetime=10m"},
			wantMax:      7,
			wantMin:      0,
			wantLifetime: 10 * time.Minute,
			wantAppName:  "ops",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pcfg, err := poolConfig(tc.cfg)
			if err != nil {
				t.Fatalf("poolConfig: %v", err)
			}
			if pcfg.MaxConns != tc.wantMax || pcfg.MinConns != tc.wantMin {
				t.Fatalf("conns: max=%d min=%d want max=%d min=%d", pcfg.MaxConns, pcfg.MinConns, tc.wantMax, tc.wantMin)
			}
			if pcfg.MaxConnLifetime != tc.wantLifetime {
				t.Fatalf("MaxConnLifetime=%v want=%v", pcfg.MaxConnLifetime, tc.wantLifetime)
			}
			if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != tc.wantAppName {
				t.Fatalf("application_name=%q want=%q", got, tc.wantAppName)
			}
		})
	}
}

func TestPoolConfig_BadURL(t *testing.T) {
	t.Parallel()

	_, err := poolConfig(Config{DatabaseURL: "postgres://u:p@db:notaport/bouncer"})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if !strings.Contains(err.Error(), "BOUNCER_DATABASE_URL") {
		t.Fatalf("error should name the setting: %v", err)
	}
}
