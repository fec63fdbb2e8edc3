package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitMeterNoneExporter(t *testing.T) {
	shutdown, err := InitMeter(context.Background(), MeterConfig{ServiceName: "test", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitMeterRejectsUnknownExporter(t *testing.T) {
	_, err := InitMeter(context.Background(), MeterConfig{ServiceName: "test", Exporter: "statsd"})
	require.ErrorContains(t, err, "unsupported metric exporter")
}
