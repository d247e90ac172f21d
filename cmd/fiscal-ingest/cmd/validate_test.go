package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-ingest/pkg/invoicelib"
)

const testdata = "../../../internal/parser/testdata"

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.xml", "b.gz", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<x/>"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.xml"), []byte("<x/>"), 0o600))

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.xml"),
		filepath.Join(dir, "b.gz"),
		filepath.Join(dir, "sub", "c.xml"),
	}, files)

	files, err = collectFiles([]string{filepath.Join(dir, "*.xml")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.xml")}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestValidateFile(t *testing.T) {
	proc := invoicelib.NewDefaultProcessor()
	ctx := context.Background()

	result := validateFile(ctx, proc, filepath.Join(testdata, "procNFe.xml"))
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	result = validateFile(ctx, proc, filepath.Join(testdata, "resEvento.xml"))
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings[0], "event")

	result = validateFile(ctx, proc, filepath.Join(testdata, "missing.xml"))
	assert.False(t, result.Valid)
}

func TestValidateFile_Strict(t *testing.T) {
	proc := invoicelib.NewDefaultProcessor()
	ctx := context.Background()
	path := filepath.Join(testdata, "truncated.xml")

	result := validateFile(ctx, proc, path)
	assert.True(t, result.Valid)
	assert.Contains(t, result.Warnings, "missing issue_date")

	strictValidation = true
	t.Cleanup(func() { strictValidation = false })

	result = validateFile(ctx, proc, path)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "missing issue_date")
}

func TestEscapeCSV(t *testing.T) {
	assert.Equal(t, "plain", escapeCSV("plain"))
	assert.Equal(t, `"a,b"`, escapeCSV("a,b"))
	assert.Equal(t, `"say ""hi"""`, escapeCSV(`say "hi"`))
}
