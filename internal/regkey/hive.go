package regkey

import (
	"errors"
	"fmt"
	"strings"
)

// Hive identifies a registry root key.
type Hive int

const (
	LocalMachine Hive = iota + 1
	CurrentUser
	ClassesRoot
	Users
)

var ErrUnknownHive = errors.New("unknown registry hive")

type hiveNames struct {
	long  string
	short string
	enum  string
}

// hiveTable is the static hive lookup; it is never written after init.
var hiveTable = map[Hive]hiveNames{
	LocalMachine: {long: "HKEY_LOCAL_MACHINE", short: "HKLM", enum: "LocalMachine"},
	CurrentUser:  {long: "HKEY_CURRENT_USER", short: "HKCU", enum: "CurrentUser"},
	ClassesRoot:  {long: "HKEY_CLASSES_ROOT", short: "HKCR", enum: "ClassesRoot"},
	Users:        {long: "HKEY_USERS", short: "HKU", enum: "Users"},
}

// Hives lists every supported hive in declaration order.
func Hives() []Hive {
	return []Hive{LocalMachine, CurrentUser, ClassesRoot, Users}
}

func (h Hive) Valid() bool {
	_, ok := hiveTable[h]
	return ok
}

func (h Hive) String() string {
	if names, ok := hiveTable[h]; ok {
		return names.long
	}
	return fmt.Sprintf("Hive(%d)", int(h))
}

// ShortName returns the abbreviated root name, e.g. HKCU.
func (h Hive) ShortName() string {
	if names, ok := hiveTable[h]; ok {
		return names.short
	}
	return h.String()
}

func (h Hive) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHive, int(h))
	}
	return []byte(h.String()), nil
}

func (h *Hive) UnmarshalText(text []byte) error {
	parsed, err := ParseHive(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHive accepts long (HKEY_CURRENT_USER), short (HKCU) and enum
// (CurrentUser) names, case-insensitively.
func ParseHive(value string) (Hive, error) {
	trimmed := strings.TrimSpace(value)
	for _, hive := range Hives() {
		names := hiveTable[hive]
		if strings.EqualFold(trimmed, names.long) ||
			strings.EqualFold(trimmed, names.short) ||
			strings.EqualFold(trimmed, names.enum) {
			return hive, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownHive, value)
}
