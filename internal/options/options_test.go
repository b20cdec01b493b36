package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	value   int
	name    string
	applied []string
}

func setValue(v int) Option[*testConfig] {
	return New(func(c *testConfig) error {
		if v < 0 {
			return errors.New("value cannot be negative")
		}
		c.value = v
		c.applied = append(c.applied, "value")

		return nil
	})
}

func setName(name string) Option[*testConfig] {
	return NoError(func(c *testConfig) {
		c.name = name
		c.applied = append(c.applied, "name")
	})
}

func TestOption_New(t *testing.T) {
	cfg := &testConfig{}

	require.NoError(t, Apply(cfg, setValue(42)))
	require.Equal(t, 42, cfg.value)

	err := Apply(cfg, setValue(-1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "value cannot be negative")
}

func TestOption_Apply_Order(t *testing.T) {
	cfg := &testConfig{}

	require.NoError(t, Apply(cfg, setName("first"), setValue(1), setName("second")))
	require.Equal(t, []string{"name", "value", "name"}, cfg.applied)
	require.Equal(t, "second", cfg.name)
}

func TestOption_Apply_StopsAtFirstError(t *testing.T) {
	cfg := &testConfig{}

	err := Apply(cfg, setValue(1), setValue(-1), setName("never"))
	require.Error(t, err)
	require.Equal(t, 1, cfg.value)
	require.Empty(t, cfg.name)
}

func TestOption_Apply_SkipsNil(t *testing.T) {
	cfg := &testConfig{}

	require.NoError(t, Apply(cfg, nil, setValue(7), nil))
	require.Equal(t, 7, cfg.value)
}

func TestOption_Apply_NoOptions(t *testing.T) {
	cfg := &testConfig{}

	require.NoError(t, Apply(cfg))
	require.Zero(t, cfg.value)
}
