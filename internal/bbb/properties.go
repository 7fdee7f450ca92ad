package bbb

import (
	"fmt"
	"os"
	"strings"

	"github.com/magiconair/properties"
)

// Default bbb-web property files, read in order; later files override.
var DefaultPropertyFiles = []string{
	"/usr/share/bbb-web/WEB-INF/classes/bigbluebutton.properties",
	"/etc/bigbluebutton/bbb-web.properties",
}

const (
	keySecuritySalt = "securitySalt"
	keyServerURL    = "bigbluebutton.web.serverURL"
)

// Properties holds the merged bbb-web configuration.
type Properties struct {
	p *properties.Properties
}

// SecuritySalt returns the shared API secret.
func (p Properties) SecuritySalt() string { return p.get(keySecuritySalt) }

// ServerURL returns the bbb-web base URL.
func (p Properties) ServerURL() string { return p.get(keyServerURL) }

// Get returns the raw value of key, or "" when unset.
func (p Properties) Get(key string) string { return p.get(key) }

func (p Properties) get(key string) string {
	if p.p == nil {
		return ""
	}
	return strings.TrimSpace(p.p.GetString(key, ""))
}

// LoadProperties reads each existing file in paths. Missing files are
// skipped; it is an error if none exist.
func LoadProperties(paths ...string) (Properties, error) {
	merged := properties.NewProperties()
	found := 0
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		p, err := properties.LoadFile(path, properties.UTF8)
		if err != nil {
			return Properties{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged.Merge(p)
		found++
	}
	if found == 0 {
		return Properties{}, fmt.Errorf("no property file found in %s", strings.Join(paths, ", "))
	}
	return Properties{p: merged}, nil
}
