package db

import (
	"context"
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero value gets deployment defaults",
			in:   Config{},
			want: Config{MaxOpenConns: 25, MaxIdleConns: 25, ConnMaxLifetime: 30 * time.Minute, PingTimeout: 5 * time.Second},
		},
		{
			name: "idle capped at open",
			in:   Config{MaxOpenConns: 10, MaxIdleConns: 40},
			want: Config{MaxOpenConns: 10, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, PingTimeout: 5 * time.Second},
		},
		{
			name: "explicit values kept",
			in:   Config{MaxOpenConns: 8, MaxIdleConns: 4, ConnMaxLifetime: time.Hour, PingTimeout: time.Second},
			want: Config{MaxOpenConns: 8, MaxIdleConns: 4, ConnMaxLifetime: time.Hour, PingTimeout: time.Second},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.withDefaults(); got != tc.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank dsn")
	}
}
