// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testunit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in      string
		want    Phase
		wantErr bool
	}{
		{"", "", false},
		{"foundation", PhaseFoundation, false},
		{" Business ", PhaseBusiness, false},
		{"INTEGRATION", PhaseIntegration, false},
		{"smoke", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePhase(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorityWeights(t *testing.T) {
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
	assert.Equal(t, 0, Priority("urgent").Weight())

	assert.Equal(t, 1.5, PriorityHigh.Multiplier())
	assert.Equal(t, 1.2, PriorityMedium.Multiplier())
	assert.Equal(t, 1.0, PriorityLow.Multiplier())
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("web", "auth/login.spec.ts")
	assert.Equal(t, "web:auth/login.spec.ts", key)

	project, rel, ok := SplitKey(key)
	require.True(t, ok)
	assert.Equal(t, "web", project)
	assert.Equal(t, "auth/login.spec.ts", rel)

	_, _, ok = SplitKey("no-separator")
	assert.False(t, ok)
}

func TestSharesExternal(t *testing.T) {
	withExt := func(tokens ...string) *TestUnit {
		return &TestUnit{Dependencies: Dependencies{External: tokens}}
	}

	assert.True(t, SharesExternal(withExt("stripe", "s3"), withExt("s3")))
	assert.False(t, SharesExternal(withExt("stripe"), withExt("s3")))
	assert.False(t, SharesExternal(withExt(), withExt("s3")))
	assert.False(t, SharesExternal(nil, withExt("s3")))
}

func TestHookCountsTotal(t *testing.T) {
	h := HookCounts{BeforeEach: 2, AfterEach: 1, BeforeAll: 1}
	assert.Equal(t, 4, h.Total())
}
