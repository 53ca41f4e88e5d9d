package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addinscan/addinscan/internal/protocol"
)

func TestScanOptionsRoundTrip(t *testing.T) {
	for _, opts := range []ScanOptions{
		{},
		{CleanGeneratedScanData: true},
		{FilesToIgnore: []string{"/a/b.addin.xml", "**/tests/**"}},
	} {
		got, err := DecodeScanOptions(opts.Encode())
		require.NoError(t, err)
		assert.Equal(t, opts, got)
	}
}

func TestScanOptionsEncoding(t *testing.T) {
	opts := ScanOptions{CleanGeneratedScanData: true, FilesToIgnore: []string{"x"}}
	assert.Equal(t, []string{"True", "1", "x"}, opts.Encode())
}

func TestDecodeScanOptionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"empty", nil},
		{"missing count", []string{"True"}},
		{"bad bool", []string{"maybe", "0"}},
		{"bad count", []string{"False", "two"}},
		{"negative count", []string{"False", "-1"}},
		{"short list", []string{"False", "2", "only-one"}},
		{"long list", []string{"False", "0", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeScanOptions(tt.lines)
			assert.ErrorIs(t, err, protocol.ErrInvalidPayload)
		})
	}
}

func TestLocationsValidate(t *testing.T) {
	loc := Locations{RegistryPath: "r", StartupDir: "s", AddinsDir: "a", DatabaseDir: "d"}
	require.NoError(t, loc.Validate())

	loc.AddinsDir = ""
	loc.DatabaseDir = ""
	err := loc.Validate()
	assert.ErrorIs(t, err, ErrInvalidLocations)
	assert.Contains(t, err.Error(), "add-ins dir, database dir")
}

func TestLocationsAbs(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	loc, err := Locations{RegistryPath: "reg", StartupDir: "/app", AddinsDir: "../addins"}.Abs()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "reg"), loc.RegistryPath)
	assert.Equal(t, "/app", loc.StartupDir)
	assert.Equal(t, filepath.Join(filepath.Dir(wd), "addins"), loc.AddinsDir)
	assert.Equal(t, "", loc.DatabaseDir)
}

func TestScanOptionsAbs(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	opts, err := ScanOptions{
		CleanGeneratedScanData: true,
		FilesToIgnore:          []string{"skip.addin", "/abs/other.addin", "**/tests/**", "vendor/*.addin"},
	}.Abs()
	require.NoError(t, err)
	assert.True(t, opts.CleanGeneratedScanData)
	assert.Equal(t, []string{
		filepath.Join(wd, "skip.addin"),
		"/abs/other.addin",
		"**/tests/**",
		"vendor/*.addin",
	}, opts.FilesToIgnore)

	empty, err := ScanOptions{}.Abs()
	require.NoError(t, err)
	assert.Nil(t, empty.FilesToIgnore)
}
