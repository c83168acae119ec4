// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyCheckerIsHealthy(t *testing.T) {
	c := NewChecker()
	assert.True(t, c.IsHealthy(context.Background()))
	assert.Empty(t, c.Ready(context.Background()))
}

func TestRegisteredChecksRun(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("cache", func(ctx context.Context) error { return nil })
	c.RegisterCheck("store", func(ctx context.Context) error {
		return errors.New("disk error")
	})

	results := c.Ready(context.Background())
	require.Len(t, results, 2)

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusHealthy, byName["cache"].Status)
	assert.Equal(t, StatusUnhealthy, byName["store"].Status)
	assert.Equal(t, "disk error", byName["store"].Error)

	assert.False(t, c.IsHealthy(context.Background()))
}

func TestUnregisterCheck(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("flaky", func(ctx context.Context) error {
		return errors.New("down")
	})
	require.False(t, c.IsHealthy(context.Background()))

	c.UnregisterCheck("flaky")
	assert.True(t, c.IsHealthy(context.Background()))
}

func TestNilCheckIgnored(t *testing.T) {
	c := NewChecker()
	c.RegisterCheck("nothing", nil)
	assert.Empty(t, c.Ready(context.Background()))
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, StatusHealthy, AggregateStatus(nil))
	assert.Equal(t, StatusHealthy, AggregateStatus([]CheckResult{
		{Status: StatusHealthy},
	}))
	assert.Equal(t, StatusUnhealthy, AggregateStatus([]CheckResult{
		{Status: StatusHealthy},
		{Status: StatusUnhealthy},
	}))
}

func TestUptime(t *testing.T) {
	c := NewChecker()
	assert.GreaterOrEqual(t, c.Uptime(), time.Duration(0))
}
