package bot

import (
	"fmt"
	"strings"
)

// BackendKind identifies the execution substrate of a bot. The set is closed:
// every switch over BackendKind is expected to handle all values.
type BackendKind int

const (
	// BackendLocal runs the worker as a subprocess of the control plane.
	BackendLocal BackendKind = iota

	// BackendRemote runs the worker on a managed machine created through the
	// remote machines API.
	BackendRemote
)

// BackendKinds returns every known backend kind.
func BackendKinds() []BackendKind {
	return []BackendKind{BackendLocal, BackendRemote}
}

func (k BackendKind) String() string {
	switch k {
	case BackendLocal:
		return "local"
	case BackendRemote:
		return "remote"
	default:
		return fmt.Sprintf("backend(%d)", int(k))
	}
}

// ParseBackendKind converts "local" or "remote" into a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return BackendLocal, nil
	case "remote", "fly", "machines":
		return BackendRemote, nil
	default:
		return BackendLocal, fmt.Errorf("unknown backend %q (want local or remote)", s)
	}
}

func (k BackendKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BackendKind) UnmarshalText(text []byte) error {
	parsed, err := ParseBackendKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
