package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/maintd.db
engine:
  refresh_interval: 30s
  catch_up: false
pools:
  root: /srv/pools
  min_age: 24h
filesystems:
  root: /srv/fs
schedules:
  - level: pool:rbd
    interval: 1d
    start: "03:00"
  - level: fs:cephfs/home
    interval: 1h
    retention: 24h7d
`

func TestDecodeYAMLAndJSONAgree(t *testing.T) {
	y, err := Decode("maintd.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", y.Logging.Level)
	require.NotNil(t, y.Engine.CatchUp)
	assert.False(t, *y.Engine.CatchUp)
	assert.Nil(t, y.Engine.DeactivateOnPermanent)
	require.Len(t, y.Schedules, 2)
	assert.Equal(t, "03:00", y.Schedules[0].Start)
	assert.Equal(t, "24h7d", y.Schedules[1].Retention)

	j, err := Decode("maintd.json", []byte(`{
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "sqlite", "path": "./data/maintd.db"},
		"engine": {"refresh_interval": "30s", "catch_up": false},
		"pools": {"root": "/srv/pools", "min_age": "24h"},
		"filesystems": {"root": "/srv/fs"},
		"schedules": [
			{"level": "pool:rbd", "interval": "1d", "start": "03:00"},
			{"level": "fs:cephfs/home", "interval": "1h", "retention": "24h7d"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, y, j)
}

func TestDecodeRejectsUnknownKeysAndTrailingData(t *testing.T) {
	_, err := Decode("c.yaml", []byte("engine:\n  refresh: 10s\n"))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Decode("c.json", []byte(`{"engine":{}} {}`))
	assert.Error(t, err)

	cfg, err := Decode("empty.yml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Schedules)
}

func TestValidate(t *testing.T) {
	ok, err := Decode("maintd.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(ok))

	bad := *ok
	bad.Engine.RefreshInterval = "soon"
	bad.Pools = nil
	bad.Storage = &StorageConfig{Driver: "etcd"}
	bad.Schedules = append([]ScheduleConfig(nil), ok.Schedules...)
	bad.Schedules = append(bad.Schedules,
		ScheduleConfig{Level: "fs:cephfs", Interval: "5m"},
		ScheduleConfig{Level: "fs:cephfs", Interval: "1d", Retention: "3q"},
	)

	err = Validate(&bad)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine.refresh_interval")
	assert.Contains(t, msg, "storage.driver")
	assert.Contains(t, msg, "schedules[0].level", "pool schedule without a pools section")
	assert.Contains(t, msg, "schedules[2].interval")
	assert.Contains(t, msg, "schedules[3].retention")
}

func TestSummarizeChange(t *testing.T) {
	a, err := Decode("maintd.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("maintd.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	changed, _ := SummarizeChange(a, b)
	assert.Empty(t, changed)

	b.Logging.Level = "info"
	b.Schedules = b.Schedules[:1]
	b.Export = &ExportConfig{Enabled: true, Path: "/tmp/x.json"}
	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"export", "logging", "schedules"}, changed)
	assert.NotEmpty(t, attrs)
}

func TestManagerPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maintd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// Invalid: rejected and not published.
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  refresh_interval: nope\n"), 0o600))
	time.Sleep(600 * time.Millisecond)
	select {
	case got := <-sub:
		t.Fatalf("invalid config published: %+v", got)
	default:
	}
	assert.Same(t, cfg, m.Get())

	updated := sampleYAML + "export:\n  enabled: true\n  path: " + filepath.Join(dir, "dump.json") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-sub:
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
	require.NotNil(t, got.Export)
	assert.True(t, got.Export.Enabled)
	assert.Same(t, got, m.Get())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}
