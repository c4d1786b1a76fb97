package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<table id="prices"><caption>Prices</caption>
  <tr><th>Item</th><th>Price</th></tr>
  <tr><td>Apple</td><td>1.20</td></tr>
</table>
<table style="display:none"><tr><td>hidden</td></tr></table>
</body></html>`

func writePage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0o644))
	return path
}

func TestDetect(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"detect", writePage(t)}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var got []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "prices", got[0]["id"])
	assert.Equal(t, true, got[0]["hasHeader"])
	assert.Equal(t, "Prices", got[0]["name"])
}

func TestExtract(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"extract", writePage(t), "prices"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.JSONEq(t, `[{"Item":"Apple","Price":"1.20"}]`, out.String())
}

func TestExtractNotFound(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"extract", writePage(t), "nope"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Equal(t, "not found\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"detect"}, &out, &errOut))
	assert.Equal(t, 2, run(context.Background(), []string{"frobnicate", writePage(t)}, &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"detect", filepath.Join(t.TempDir(), "missing.html")}, &out, &errOut))
}
