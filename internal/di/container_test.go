package di

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResolvesNestedDependencies(t *testing.T) {
	c := New()
	c.Register("leaf", 41)
	c.RegisterBuilder("root", func(c *Container) (interface{}, error) {
		leaf, err := c.Get("leaf")
		if err != nil {
			return nil, err
		}
		return leaf.(int) + 1, nil
	})

	got, err := c.Get("root")
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestGetReportsDependencyCycle(t *testing.T) {
	c := New()
	c.RegisterBuilder("a", func(c *Container) (interface{}, error) { return c.Get("b") })
	c.RegisterBuilder("b", func(c *Container) (interface{}, error) { return c.Get("a") })

	_, err := c.Get("a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFailedBuildIsNotCached(t *testing.T) {
	c := New()
	calls := 0
	c.RegisterBuilder("flaky", func(c *Container) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})

	_, err := c.Get("flaky")
	require.Error(t, err)
	got, err := c.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestGetUnknownService(t *testing.T) {
	c := New()
	_, err := c.Get("no.such.service")
	assert.ErrorIs(t, err, ErrUnknownService)
}
