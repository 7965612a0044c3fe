// Package catalog describes upstream crate records and the sources that
// produce them for a reconciliation pass.
package catalog

import (
	"errors"
	"fmt"
)

// RawCrate is one upstream catalog entry: a crate, every version number
// published for it, and its aggregate download count.
type RawCrate struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Homepage    *string  `json:"homepage,omitempty"`
	Readme      *string  `json:"readme,omitempty"`
	Repository  *string  `json:"repository,omitempty"`
	Versions    []string `json:"versions"`
	Downloads   int64    `json:"downloads"`
}

var (
	errEmptyName         = errors.New("crate name is empty")
	errNegativeDownloads = errors.New("download count is negative")
)

// Validate reports whether the record can be reconciled.
func (c *RawCrate) Validate() error {
	if c.Name == "" {
		return errEmptyName
	}
	if c.Downloads < 0 {
		return fmt.Errorf("crate %s: %w", c.Name, errNegativeDownloads)
	}
	for _, v := range c.Versions {
		if v == "" {
			return fmt.Errorf("crate %s: empty version number", c.Name)
		}
	}
	return nil
}
