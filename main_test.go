package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/examdesk/sebconfig/server/encryption"
)

const testMarkup = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>allowQuit</key>
	<false/>
	<key>browserZoom</key>
	<integer>3</integer>
	<key>allowedMessages</key>
	<array>
		<integer>1</integer>
		<integer>4</integer>
	</array>
</dict>
</plist>
`

const testAttributes = `
attributes:
  - id: 1
    name: allowQuit
    type: CHECKBOX
    default: "true"
  - id: 2
    name: browserZoom
    type: INTEGER
    default: "1"
  - id: 3
    name: allowedMessages
    type: MULTI_SELECTION
`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Setenv("SEB_PASSWORD", "")
	os.Unsetenv("SEB_PASSWORD")
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"sebconfig", "--level", "error"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// Ensure a file exported with a password imports back to the same markup.
func TestExportImportCommands(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "config.plist", testMarkup)
	container := filepath.Join(dir, "config.seb")
	restored := filepath.Join(dir, "restored.plist")

	_, err := runApp(t, "export", "--in", in, "--out", container, "--strategy", "pwcc", "--password", "exam")
	require.NoError(t, err)
	data, err := os.ReadFile(container)
	require.NoError(t, err)
	require.Equal(t, "pwcc", string(data[:4]))

	_, err = runApp(t, "import", "--in", container, "--out", restored, "--password", "exam")
	require.NoError(t, err)
	data, err = os.ReadFile(restored)
	require.NoError(t, err)
	require.Equal(t, testMarkup, string(data))
}

// Ensure a failed import leaves no output file behind.
func TestImportCommandWrongPassword(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "config.plist", testMarkup)
	container := filepath.Join(dir, "config.seb")
	restored := filepath.Join(dir, "restored.plist")

	_, err := runApp(t, "export", "--in", in, "--out", container, "--password", "exam")
	require.NoError(t, err)

	_, err = runApp(t, "import", "--in", container, "--out", restored, "--password", "wrong")
	require.True(t, errors.Is(err, encryption.ErrAuthentication), "%v", err)
	_, err = os.Stat(restored)
	require.True(t, os.IsNotExist(err))
}

// Ensure password strategies refuse to export without a password.
func TestExportCommandMissingPassword(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "config.plist", testMarkup)
	_, err := runApp(t, "export", "--in", in, "--out", filepath.Join(dir, "x.seb"))
	require.True(t, errors.Is(err, encryption.ErrMissingPassword), "%v", err)

	_, err = runApp(t, "export", "--in", in, "--strategy", "pkhs", "--out", filepath.Join(dir, "x.seb"))
	require.Error(t, err)

	_, err = runApp(t, "export", "--in", in, "--strategy", "rot13", "--out", filepath.Join(dir, "x.seb"))
	require.True(t, errors.Is(err, encryption.ErrUnsupportedStrategy), "%v", err)
}

// Ensure the values command lists parsed values.
func TestValuesCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "config.plist", testMarkup)
	attrs := writeFile(t, dir, "attributes.yaml", testAttributes)

	out, err := runApp(t, "values", "--attributes", attrs, "--in", in)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "ATTRIBUTE"))
	require.Regexp(t, `^allowQuit\s+CHECKBOX\s+0\s+false$`, lines[1])
	require.Regexp(t, `^browserZoom\s+INTEGER\s+0\s+3$`, lines[2])
	require.Regexp(t, `^allowedMessages\s+MULTI_SELECTION\s+0\s+1,4$`, lines[3])

	_, err = runApp(t, "values", "--in", in)
	require.Error(t, err)
}

// Ensure render writes canonical markup that parses to the same values.
func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "config.plist", testMarkup)
	attrs := writeFile(t, dir, "attributes.yaml", testAttributes)
	rendered := filepath.Join(dir, "rendered.plist")

	_, err := runApp(t, "render", "--attributes", attrs, "--in", in, "--out", rendered)
	require.NoError(t, err)
	data, err := os.ReadFile(rendered)
	require.NoError(t, err)
	require.Contains(t, string(data), "<!DOCTYPE plist")
	require.Contains(t, string(data), "<integer>3</integer>")

	before, err := runApp(t, "values", "--attributes", attrs, "--in", in)
	require.NoError(t, err)
	after, err := runApp(t, "values", "--attributes", attrs, "--in", rendered)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
