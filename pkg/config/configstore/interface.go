// Package configstore defines the storage contract shared by the
// test-stand configuration backends.
package configstore

// Store loads and saves a configuration document.
type Store interface {
	Load(out any) error
	Save(in any) error
}
