// Package profile loads named connection profiles from a YAML file: which
// authority to sign in against, as which client application, for which
// scopes. Profiles let one host switch between tenants or applications
// without re-specifying every setting.
package profile

import (
	"fmt"
	"os"

	"github.com/meridianid/meridian-go/internal/authority"
	"gopkg.in/yaml.v3"
)

// Connection is one named profile.
type Connection struct {
	Authority string   `yaml:"authority"`
	ClientID  string   `yaml:"client_id"`
	Scopes    []string `yaml:"scopes"`
}

// file is the on-disk document shape.
type file struct {
	Default  string                `yaml:"default"`
	Profiles map[string]Connection `yaml:"profiles"`
}

// NotFoundError reports a request for a profile the file does not define.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("profile %q is not defined", e.Name)
}

// UnavailableError reports a request for a profile that exists but failed
// validation at load time.
type UnavailableError struct {
	Name  string
	Cause error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("profile %q is invalid: %v", e.Name, e.Cause)
}

func (e UnavailableError) Unwrap() error { return e.Cause }

// Store holds the loaded profiles. Invalid profiles are tracked separately
// so a single bad entry fails only requests for that entry, not the whole
// file. Once created, a Store is immutable.
type Store struct {
	profiles    map[string]Connection
	invalid     map[string]error
	defaultName string
}

// Load reads and validates a profile file.
func Load(path string) (Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Store{}, fmt.Errorf("profile file could not be read: %w", err)
	}
	return Parse(raw)
}

// Parse validates profile file content.
func Parse(raw []byte) (Store, error) {
	var doc file
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Store{}, fmt.Errorf("profile file is not valid YAML: %w", err)
	}

	store := Store{
		profiles:    map[string]Connection{},
		invalid:     map[string]error{},
		defaultName: doc.Default,
	}

	for name, conn := range doc.Profiles {
		if err := validate(conn); err != nil {
			store.invalid[name] = err
			continue
		}
		store.profiles[name] = conn
	}

	if doc.Default != "" {
		if _, defined := doc.Profiles[doc.Default]; !defined {
			return Store{}, fmt.Errorf("default profile %q is not defined", doc.Default)
		}
	}

	return store, nil
}

func validate(conn Connection) error {
	if conn.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if _, err := authority.Parse(conn.Authority); err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	return nil
}

// Get retrieves a profile by name; the empty name selects the file's
// default profile.
func (s Store) Get(name string) (Connection, error) {
	if name == "" {
		name = s.defaultName
	}
	if name == "" {
		return Connection{}, NotFoundError{Name: "(default)"}
	}

	if err, found := s.invalid[name]; found {
		return Connection{}, UnavailableError{Name: name, Cause: err}
	}

	conn, found := s.profiles[name]
	if !found {
		return Connection{}, NotFoundError{Name: name}
	}
	return conn, nil
}

// Names lists the valid profile names, for diagnostics.
func (s Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	return names
}
