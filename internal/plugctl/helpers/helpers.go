package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

//nolint:gochecknoglobals
var pluginIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidatePluginID reports whether id is safe to use as a cache directory name.
func ValidatePluginID(id string) error {
	if !pluginIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPluginID, id)
	}
	return nil
}

// NewTransactionID returns a correlation token of the form tx-<unixmillis>-<hex>.
func NewTransactionID(now time.Time) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("tx-%d-%08x", now.UnixMilli(), now.UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("tx-%d-%s", now.UnixMilli(), hex.EncodeToString(buf))
}

// EntryKey renders a plugin version as id@version.
func EntryKey(pluginID, version string) string {
	return pluginID + "@" + version
}
