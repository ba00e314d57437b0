package plist

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/examdesk/sebconfig/server/model"
)

const document = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>originatorVersion</key>
	<string>SEB_Win_2.1.4</string>
	<key>sebMode</key>
	<integer>1</integer>
	<key>allowQuit</key>
	<false/>
	<key>browserZoom</key>
	<integer>large</integer>
	<key>permittedProcesses</key>
	<array>
		<dict>
			<key>active</key>
			<true/>
			<key>executable</key>
			<string>a.exe</string>
			<key>arguments</key>
			<array>
				<dict>
					<key>active</key>
					<true/>
					<key>argument</key>
					<string>-v</string>
				</dict>
				<dict>
					<key>active</key>
					<false/>
					<key>argument</key>
					<string>-q</string>
				</dict>
			</array>
		</dict>
		<dict>
			<key>active</key>
			<false/>
			<key>executable</key>
			<string>b.exe</string>
			<key>arguments</key>
			<array/>
		</dict>
	</array>
	<key>arguments</key>
	<array>
		<dict>
			<key>active</key>
			<true/>
			<key>argument</key>
			<string>-x</string>
		</dict>
		<dict>
			<key>active</key>
			<false/>
			<key>argument</key>
			<string>-y</string>
		</dict>
	</array>
	<key>allowedMessages</key>
	<array>
		<integer>1</integer>
		<integer>3</integer>
	</array>
	<key>createNewDesktop</key>
	<false/>
	<key>killExplorerShell</key>
	<true/>
	<key>somethingNobodyKnows</key>
	<string>x</string>
</dict>
</plist>
`

// prefixSecrets is a reversible stand-in for the credential encryptor.
type prefixSecrets struct{}

func (prefixSecrets) Encrypt(s string) (string, error) { return "sealed:" + s, nil }

func (prefixSecrets) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "sealed:") {
		return "", errors.New("not sealed")
	}
	return strings.TrimPrefix(s, "sealed:"), nil
}

func testSnapshot(t *testing.T) *model.Snapshot {
	s := model.NewSnapshot(3, 11)
	require.NoError(t, s.AddAttribute(
		&model.Attribute{ID: 1, Name: "allowQuit", Type: model.TypeCheckbox, DefaultValue: "true"},
		&model.Attribute{ID: 2, Name: "browserZoom", Type: model.TypeInteger, DefaultValue: "1"},
		&model.Attribute{ID: 3, Name: "permittedProcesses", Type: model.TypeTable, Resources: "active,executable,arguments"},
		&model.Attribute{ID: 4, Name: "permittedProcesses.active", Type: model.TypeCheckbox, ParentID: 3, DefaultValue: "true"},
		&model.Attribute{ID: 5, Name: "permittedProcesses.executable", Type: model.TypeTextField, ParentID: 3},
		&model.Attribute{ID: 6, Name: "permittedProcesses.arguments", Type: model.TypeInlineTable, ParentID: 3, Resources: "active,argument"},
		&model.Attribute{ID: 7, Name: "arguments", Type: model.TypeInlineTable, Resources: "active,argument"},
		&model.Attribute{ID: 8, Name: "allowedMessages", Type: model.TypeMultiSelection},
		&model.Attribute{ID: 9, Name: "kioskMode", Type: model.TypeSingleSelection, DefaultValue: "0"},
		&model.Attribute{ID: 10, Name: "sebMode", Type: model.TypeInteger},
		&model.Attribute{ID: 11, Name: "hashedQuitPassword", Type: model.TypeTextField},
	))
	return s
}

func parse(t *testing.T, s *model.Snapshot, markup string, secrets SecretEncryptor) {
	p := &Parser{
		InstitutionID:   s.InstitutionID,
		ConfigurationID: s.ConfigurationID,
		Resolver:        s.Resolver(),
		Sink:            s.Sink(),
		Secrets:         secrets,
	}
	require.NoError(t, p.Parse(strings.NewReader(markup)))
}

func requireValue(t *testing.T, s *model.Snapshot, attributeID int64, index int, expected string) {
	v, ok := s.Value(attributeID, index)
	require.True(t, ok, "missing value of attribute %d at %d", attributeID, index)
	require.False(t, v.Null)
	require.Equal(t, expected, v.Value)
}

// Ensure a complete document produces the expected values.
func TestParseDocument(t *testing.T) {
	s := testSnapshot(t)
	parse(t, s, document, nil)

	requireValue(t, s, 1, 0, "false")
	requireValue(t, s, 2, 0, "1")
	requireValue(t, s, 4, 0, "true")
	requireValue(t, s, 4, 1, "false")
	requireValue(t, s, 5, 0, "a.exe")
	requireValue(t, s, 5, 1, "b.exe")
	requireValue(t, s, 6, 0, "active=true,argument=-v|active=false,argument=-q")
	requireValue(t, s, 7, 0, "active=true,argument=-x")
	requireValue(t, s, 7, 1, "active=false,argument=-y")
	requireValue(t, s, 8, 0, "1,3")
	requireValue(t, s, 9, 0, "1")

	nested, ok := s.Value(6, 1)
	require.True(t, ok)
	require.True(t, nested.Null)

	_, ok = s.Value(10, 0)
	require.False(t, ok)

	for _, v := range s.Values() {
		require.Equal(t, int64(3), v.InstitutionID)
		require.Equal(t, int64(11), v.ConfigurationID)
	}
	require.Len(t, s.Values(), 12)
}

// Ensure an inline table of three columns and two rows yields two row
// values.
func TestParseInlineTableRows(t *testing.T) {
	s := model.NewSnapshot(1, 1)
	require.NoError(t, s.AddAttribute(&model.Attribute{
		ID: 1, Name: "arguments", Type: model.TypeInlineTable, Resources: "active,key,value",
	}))
	parse(t, s, `<plist><dict><key>arguments</key><array>
		<dict><key>active</key><true/><key>key</key><string>a</string><key>value</key><string>1</string></dict>
		<dict><key>active</key><false/><key>key</key><string>b</string><key>value</key><string>2</string></dict>
	</array></dict></plist>`, nil)

	require.Len(t, s.Values(), 2)
	requireValue(t, s, 1, 0, "active=true,key=a,value=1")
	requireValue(t, s, 1, 1, "active=false,key=b,value=2")
}

// Ensure an empty inline table yields one null value.
func TestParseEmptyInlineTable(t *testing.T) {
	s := model.NewSnapshot(1, 1)
	require.NoError(t, s.AddAttribute(&model.Attribute{
		ID: 1, Name: "arguments", Type: model.TypeInlineTable, Resources: "active,argument",
	}))
	parse(t, s, `<plist><dict><key>arguments</key><array></array></dict></plist>`, nil)

	values := s.Values()
	require.Len(t, values, 1)
	require.True(t, values[0].Null)
}

// Ensure ignored keys never produce values even when the resolver knows
// them.
func TestParseIgnoresObsoleteKeys(t *testing.T) {
	var resolved []string
	var values []model.Value
	p := &Parser{
		Resolver: func(name string) *model.Attribute {
			resolved = append(resolved, name)
			return &model.Attribute{ID: 1, Name: name, Type: model.TypeInteger}
		},
		Sink: func(v model.Value) error {
			values = append(values, v)
			return nil
		},
	}
	err := p.Parse(strings.NewReader(
		`<plist><dict><key>sebMode</key><integer>1</integer><key>originatorVersion</key><string>x</string></dict></plist>`))
	require.NoError(t, err)
	require.Empty(t, values)
	require.Empty(t, resolved)
}

// Ensure the legacy kiosk mode booleans combine into one value.
func TestParseKioskMode(t *testing.T) {
	tests := []struct {
		createNewDesktop string
		killExplorer     string
		expected         string
	}{
		{"<true/>", "<true/>", "0"},
		{"<true/>", "<false/>", "0"},
		{"<false/>", "<true/>", "1"},
		{"<false/>", "<false/>", "2"},
	}
	for _, test := range tests {
		s := model.NewSnapshot(1, 1)
		require.NoError(t, s.AddAttribute(&model.Attribute{ID: 1, Name: "kioskMode", Type: model.TypeSingleSelection}))
		parse(t, s, "<plist><dict><key>killExplorerShell</key>"+test.killExplorer+
			"<key>createNewDesktop</key>"+test.createNewDesktop+"</dict></plist>", nil)
		require.Len(t, s.Values(), 1)
		requireValue(t, s, 1, 0, test.expected)
	}

	// Only one half seen: nothing is emitted.
	s := model.NewSnapshot(1, 1)
	require.NoError(t, s.AddAttribute(&model.Attribute{ID: 1, Name: "kioskMode", Type: model.TypeSingleSelection}))
	parse(t, s, "<plist><dict><key>createNewDesktop</key><true/></dict></plist>", nil)
	require.Empty(t, s.Values())
}

// Ensure kioskMode is emitted once when a document carries both the legacy
// booleans and the attribute itself.
func TestParseKioskModeWithLegacyKeys(t *testing.T) {
	documents := map[string]string{
		"1": "<plist><dict><key>kioskMode</key><integer>1</integer>" +
			"<key>createNewDesktop</key><true/><key>killExplorerShell</key><false/></dict></plist>",
		"0": "<plist><dict><key>createNewDesktop</key><true/><key>killExplorerShell</key><false/>" +
			"<key>kioskMode</key><integer>1</integer></dict></plist>",
	}
	for expected, markup := range documents {
		s := model.NewSnapshot(1, 1)
		require.NoError(t, s.AddAttribute(&model.Attribute{ID: 1, Name: "kioskMode", Type: model.TypeSingleSelection}))
		parse(t, s, markup, nil)
		require.Len(t, s.Values(), 1)
		requireValue(t, s, 1, 0, expected)
	}
}

// Ensure malformed numbers fall back to the attribute default.
func TestParseCoercionFallback(t *testing.T) {
	s := model.NewSnapshot(1, 1)
	require.NoError(t, s.AddAttribute(
		&model.Attribute{ID: 1, Name: "browserZoom", Type: model.TypeInteger, DefaultValue: "100"},
		&model.Attribute{ID: 2, Name: "zoomFactor", Type: model.TypeDecimal, DefaultValue: "1.0"},
	))
	parse(t, s, `<plist><dict><key>browserZoom</key><integer>1x</integer>`+
		`<key>zoomFactor</key><real> 1.25 </real></dict></plist>`, nil)
	requireValue(t, s, 1, 0, "100")
	requireValue(t, s, 2, 0, "1.25")
}

// Ensure secret attributes are encrypted on the way in and dropped without
// an encryptor.
func TestParseSecretAttributes(t *testing.T) {
	markup := `<plist><dict><key>hashedQuitPassword</key><string>abc123</string></dict></plist>`

	s := testSnapshot(t)
	parse(t, s, markup, prefixSecrets{})
	requireValue(t, s, 11, 0, SecretMarker+"sealed:abc123")

	s = testSnapshot(t)
	parse(t, s, markup, nil)
	require.Empty(t, s.Values())
}

// Ensure malformed nesting aborts the parse with a structural error.
func TestParseStructuralErrors(t *testing.T) {
	documents := []string{
		`<plist><dict><string>x</string></dict></plist>`,
		`<plist><dict><array></array></dict></plist>`,
		`<plist><dict><key>a</key></dict></plist>`,
		`<plist><key>a</key></plist>`,
		`<dict></dict>`,
		`<plist><dict><key>a</key><bogus/></dict></plist>`,
		`<plist><plist></plist></plist>`,
	}
	for _, doc := range documents {
		s := testSnapshot(t)
		p := &Parser{Resolver: s.Resolver(), Sink: s.Sink()}
		err := p.Parse(strings.NewReader(doc))
		var structural *StructuralError
		require.True(t, errors.As(err, &structural), "document %s: %v", doc, err)
		require.NotEmpty(t, structural.Element)
		require.Contains(t, structural.Error(), "offset")
	}

	s := testSnapshot(t)
	p := &Parser{Resolver: s.Resolver(), Sink: s.Sink()}
	require.Error(t, p.Parse(strings.NewReader(`<plist><dict><key>a</key>`)))
}

// Ensure a failing sink aborts the parse.
func TestParseSinkError(t *testing.T) {
	s := testSnapshot(t)
	p := &Parser{
		Resolver: s.Resolver(),
		Sink:     func(model.Value) error { return errors.New("store down") },
	}
	err := p.Parse(strings.NewReader(document))
	require.Error(t, err)
	require.Contains(t, err.Error(), "store down")
}

// Ensure the serializer writes the fixed prolog and the per-type markup.
func TestSerializeMarkup(t *testing.T) {
	s := testSnapshot(t)
	require.NoError(t, s.Put(model.Value{AttributeID: 1, Value: "false"}))
	require.NoError(t, s.Put(model.Value{AttributeID: 5, Value: "a<b>.exe"}))
	require.NoError(t, s.Put(model.Value{AttributeID: 8, Value: "1,3"}))

	var buf bytes.Buffer
	require.NoError(t, (&Serializer{}).Write(&buf, s.Entries()))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, xmlHeader+"\n"+doctypeHeader+"\n"+plistOpen+"\n<dict>\n"))
	require.True(t, strings.HasSuffix(out, "</dict>\n"+plistClose+"\n"))
	require.Contains(t, out, "\t<key>allowQuit</key>\n\t<false/>\n")
	// Missing values are written with their default.
	require.Contains(t, out, "\t<key>browserZoom</key>\n\t<integer>1</integer>\n")
	require.Contains(t, out, "<string>a&lt;b&gt;.exe</string>")
	require.Contains(t, out, "\t\t<integer>1</integer>\n\t\t<integer>3</integer>\n")
	require.Contains(t, out, "<key>arguments</key>\n\t<array/>\n")
	require.Contains(t, out, "<key>kioskMode</key>\n\t<integer>0</integer>\n")
}

// Ensure a composite table renders as a single dict of its columns.
func TestSerializeCompositeTable(t *testing.T) {
	s := model.NewSnapshot(1, 1)
	require.NoError(t, s.AddAttribute(
		&model.Attribute{ID: 1, Name: "proxies", Type: model.TypeCompositeTable, Resources: "autoDetect,port"},
		&model.Attribute{ID: 2, Name: "proxies.port", Type: model.TypeInteger, ParentID: 1},
		&model.Attribute{ID: 3, Name: "proxies.autoDetect", Type: model.TypeCheckbox, ParentID: 1},
	))
	require.NoError(t, s.Put(model.Value{AttributeID: 2, Value: "8080"}))
	require.NoError(t, s.Put(model.Value{AttributeID: 3, Value: "true"}))

	var buf bytes.Buffer
	require.NoError(t, (&Serializer{}).Write(&buf, s.Entries()))
	require.Contains(t, buf.String(),
		"<key>proxies</key>\n\t<dict>\n\t\t<key>autoDetect</key>\n\t\t<true/>\n\t\t<key>port</key>\n\t\t<integer>8080</integer>\n\t</dict>\n")

	again := model.NewSnapshot(1, 1)
	require.NoError(t, again.AddAttribute(s.Attributes()...))
	parse(t, again, buf.String(), nil)
	requireValue(t, again, 2, 0, "8080")
	requireValue(t, again, 3, 0, "true")
}

// Ensure parse and serialize agree: values survive a full round trip.
func TestRoundTrip(t *testing.T) {
	first := testSnapshot(t)
	parse(t, first, document, prefixSecrets{})
	require.NoError(t, first.Put(model.Value{AttributeID: 11, Value: SecretMarker + "sealed:quit"}))

	var buf bytes.Buffer
	require.NoError(t, (&Serializer{Secrets: prefixSecrets{}}).Write(&buf, first.Entries()))
	require.Contains(t, buf.String(), "<key>hashedQuitPassword</key>\n\t<string>quit</string>")

	second := testSnapshot(t)
	parse(t, second, buf.String(), prefixSecrets{})

	require.Equal(t, first.Values(), second.Values())
}

// Ensure encrypted secrets cannot be written without an encryptor.
func TestSerializeSecretWithoutEncryptor(t *testing.T) {
	s := testSnapshot(t)
	require.NoError(t, s.Put(model.Value{AttributeID: 11, Value: SecretMarker + "sealed:quit"}))

	var buf bytes.Buffer
	err := (&Serializer{}).Write(&buf, s.Entries())
	require.Error(t, err)
	require.Contains(t, err.Error(), "hashedQuitPassword")
}
