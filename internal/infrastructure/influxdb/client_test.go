package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"float64", 21.5, 21.5, true},
		{"int", 3, 3, true},
		{"int64", int64(7), 7, true},
		{"bool true", true, 1, true},
		{"bool false", false, 0, true},
		{"string", "on", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toFloat(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("toFloat(%v) = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}
