package cfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/cfg"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dysectfe.toml")
	contents := `
stream-timeout-seconds = 30
break-on-enter = true
verbose = true

[report.kafka]
brokers = ["localhost:9092"]
topic = "dysect-reports"

[report.cloudwatch]
region = "us-east-1"
namespace = "DysectAPI"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := cfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, c.StreamTimeoutSeconds)
	assert.True(t, c.BreakOnEnter)
	assert.False(t, c.BreakOnTimeout)
	assert.True(t, c.Verbose)
	require.NotNil(t, c.Report.Kafka)
	assert.Equal(t, []string{"localhost:9092"}, c.Report.Kafka.Brokers)
	assert.Equal(t, "dysect-reports", c.Report.Kafka.Topic)

	require.NotNil(t, c.Report.CloudWatch)
	assert.Equal(t, "us-east-1", c.Report.CloudWatch.Region)
	assert.Equal(t, "DysectAPI", c.Report.CloudWatch.Namespace)
}

func TestDefaultHasSixtySecondTimeout(t *testing.T) {
	c := cfg.Default()
	assert.Equal(t, 60, c.StreamTimeoutSeconds)
	assert.False(t, c.BreakOnEnter)
	assert.False(t, c.BreakOnTimeout)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := cfg.Load("/nonexistent/path/dysectfe.toml")
	require.Error(t, err)
}
