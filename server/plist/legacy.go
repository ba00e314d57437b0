package plist

// Keys written by older clients that no longer map to an attribute. They
// are dropped even when an attribute of the same name exists.
var ignoredKeys = map[string]struct{}{
	"originatorVersion":        {},
	"sebMode":                  {},
	"browserMessagingSocket":   {},
	"browserMessagingPingTime": {},
}

// Arrays of dicts with these names collapse into one name=value row string
// per dict instead of one value per cell.
var inlineTables = map[string]struct{}{
	"arguments": {},
}

// Values of these attributes are never kept in plain text. They are
// encrypted on import and decrypted again on export.
var secretAttributes = map[string]struct{}{
	"hashedQuitPassword":  {},
	"hashedAdminPassword": {},
}

// SecretMarker prefixes secret values that were encrypted on import.
const SecretMarker = "{enc}"

// IsIgnored reports whether a key is on the obsolete key list.
func IsIgnored(name string) bool {
	_, ok := ignoredKeys[name]
	return ok
}

// IsInlineTable reports whether arrays with this name are inline tables.
func IsInlineTable(name string) bool {
	_, ok := inlineTables[name]
	return ok
}

// IsSecret reports whether values of the attribute are encrypted at rest.
func IsSecret(name string) bool {
	_, ok := secretAttributes[name]
	return ok
}

// The kiosk mode used to be two booleans. Both halves are collected and
// combined into the tri-state kioskMode attribute once both have been seen.
const (
	kioskModeAttribute     = "kioskMode"
	legacyCreateNewDesktop = "createNewDesktop"
	legacyKillExplorer     = "killExplorerShell"

	kioskModeCreateNewDesktop = "0"
	kioskModeKillExplorer     = "1"
	kioskModeNone             = "2"
)

// kioskModeState collects the legacy kiosk mode booleans of one document.
type kioskModeState struct {
	createNewDesktop *bool
	killExplorer     *bool
	emitted          bool
}

func isKioskModeLegacyKey(name string) bool {
	return name == legacyCreateNewDesktop || name == legacyKillExplorer
}

// record stores one half and reports whether both are known.
func (k *kioskModeState) record(name string, value bool) bool {
	switch name {
	case legacyCreateNewDesktop:
		k.createNewDesktop = &value
	case legacyKillExplorer:
		k.killExplorer = &value
	}
	return k.createNewDesktop != nil && k.killExplorer != nil && !k.emitted
}

func (k *kioskModeState) mode() string {
	switch {
	case *k.createNewDesktop:
		return kioskModeCreateNewDesktop
	case *k.killExplorer:
		return kioskModeKillExplorer
	default:
		return kioskModeNone
	}
}
