package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry := NewRegistry(nil)
	sweep := &stubJob{name: "intent-expiry-sweep"}
	retention := &stubJob{name: "outbox-retention"}
	require.NoError(t, registry.Register(sweep))
	require.NoError(t, registry.Register(retention))
	require.NoError(t, registry.Register(nil))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, sweep, jobs[0])
	assert.Same(t, retention, jobs[1])

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "callers must not mutate the registry")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	var registry Registry
	require.NoError(t, registry.Register(&stubJob{name: "outbox-retention"}))
	assert.Error(t, registry.Register(&stubJob{name: "outbox-retention"}))

	assert.Panics(t, func() {
		NewRegistry(&stubJob{name: "a"}, &stubJob{name: "a"})
	})
}
