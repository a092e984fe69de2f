//go:build !integration

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-ip/priorart-engine/internal/model"
)

func TestFormatResults(t *testing.T) {
	rows := []model.UnifiedResult{
		{
			Position:     1,
			Identifier:   "us1234567",
			Score:        0.9132,
			Intersection: model.IntersectionI3,
			Shortlisted:  true,
		},
		{
			Position:     2,
			Identifier:   "10.1000/xyz123",
			Score:        0.4201,
			Intersection: model.IntersectionNone,
			Override:     model.OverrideForceOut,
		},
	}

	var buf bytes.Buffer
	formatResults(&buf, rows)

	output := buf.String()
	assert.Contains(t, output, "POS")
	assert.Contains(t, output, "IDENTIFIER")
	assert.Contains(t, output, "us1234567")
	assert.Contains(t, output, "0.9132")
	assert.Contains(t, output, "I3")
	assert.Contains(t, output, "*")
	assert.Contains(t, output, "10.1000/xyz123")
	assert.Contains(t, output, "force_out")
}

func TestFormatResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatResults(&buf, nil)

	output := buf.String()
	assert.Contains(t, output, "POS")
	assert.Contains(t, output, "IDENTIFIER")
}
