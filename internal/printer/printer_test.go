package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = &out, &errOut, true
	t.Cleanup(func() { Stdout, Stderr, color.NoColor = prevOut, prevErr, prevNoColor })
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("single suggestion", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Redis unreachable", "Could not connect to redis://localhost:6379.", []string{"Run: flowboard redis up"})
		require.Error(t, err)
		assert.Equal(t, "Redis unreachable", err.Error())
		assert.Equal(t, "Redis unreachable\n\nCould not connect to redis://localhost:6379.\n\nRun: flowboard redis up\n", errOut.String())
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Ambiguous id", "", []string{"Use a longer prefix", "Pass the full id"})
		require.Error(t, err)
		assert.Contains(t, errOut.String(), "Either:\n  1. Use a longer prefix\n  2. Pass the full id\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Seed failed", "A row was rejected.", map[string]string{
		"Table": "issues",
		"File":  "seed.jsonc",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, "Seed failed", err.Error())
	assert.Contains(t, errOut.String(), "  File: seed.jsonc\n  Table: issues\n")
}

func TestMessages(t *testing.T) {
	out, errOut := capture(t)
	Success("Seeded %d users\n", 3)
	Step("Starting Redis\n")
	Info("plain\n")
	Warning("no webhook secret\n")

	assert.Equal(t, "✓ Seeded 3 users\n→ Starting Redis\nplain\n", out.String())
	assert.Equal(t, "⚠️  no webhook secret\n", errOut.String())
	assert.Equal(t, "failed", Status("failed"))
}
