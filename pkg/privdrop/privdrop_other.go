//go:build !linux

package privdrop

// drop is a no-op where capabilities do not exist.
func drop() error {
	return nil
}
