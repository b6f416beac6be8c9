package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anomio "github.com/hed1ad/goguardml/pkg/io"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))

	err := cmd.Execute()
	return stdout.String(), err
}

func decodeResults(t *testing.T, out string) []anomio.Result {
	t.Helper()

	var results []anomio.Result
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r anomio.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results = append(results, r)
	}
	return results
}

func TestDetectCommand(t *testing.T) {
	out, err := run(t, "value\n0\n0\n0\n0\n0\n100\n", "detect", "--file", "-", "--json")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].Index)
	assert.Equal(t, 100.0, results[0].Value)
	assert.Equal(t, "detect", results[0].Operation)
}

func TestDetectCommandTable(t *testing.T) {
	out, err := run(t, "0\n0\n0\n0\n0\n100\n", "detect", "--file", "-", "--no-header")
	require.NoError(t, err)
	assert.Contains(t, out, "DETECT")
	assert.Contains(t, out, "ANOMALY")
	assert.Contains(t, out, "outlier")
}

func TestSecondColumn(t *testing.T) {
	input := "ts,v\n1,1\n2,2\n3,1\n4,2\n5,1\n6,20\n7,1\n8,2\n9,1\n10,2\n"
	out, err := run(t, input, "spikes", "--file", "-", "--column", "1", "--json")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].Index)
	assert.Equal(t, "spike", results[0].Kind)
}

func TestCheckCommand(t *testing.T) {
	out, err := run(t, "1\n2\n3\n4\n5\n", "check", "3", "1000", "--file", "-", "--no-header", "--json")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 2)
	assert.False(t, results[0].IsAnomaly)
	assert.True(t, results[1].IsAnomaly)
	assert.Equal(t, 1.0, results[1].Score)

	_, err = run(t, "1\n2\n3\n", "check", "abc", "--file", "-", "--no-header")
	assert.Error(t, err)
}

func TestForestCommand(t *testing.T) {
	var b strings.Builder
	b.WriteString("x,y\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "%.2f,%.2f\n", float64(i%5)*0.1, float64(i%4)*0.1)
	}
	b.WriteString("100,100\n")

	path := filepath.Join(t.TempDir(), "points.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	out, err := run(t, "", "forest", "--file", path, "--json")
	require.NoError(t, err)

	results := decodeResults(t, out)
	var indices []int
	for _, r := range results {
		indices = append(indices, r.Index)
	}
	assert.Contains(t, indices, 20)
}

func TestInsufficientInput(t *testing.T) {
	_, err := run(t, "1\n2\n", "detect", "--file", "-", "--no-header")
	assert.Error(t, err)

	_, err = run(t, "", "detect")
	assert.ErrorContains(t, err, "no input")
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("ANOMALY_FOREST_TREES", "25")

	out, err := run(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "z_threshold: 2.5")
	assert.Contains(t, out, "trees: 25")
}
