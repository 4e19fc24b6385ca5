package feed

import (
	"fmt"
	"strings"
)

// Identity names one (feeder, sub-API) data stream for one account. It scopes
// exactly one checkpoint file and one lock file.
type Identity struct {
	// Feeder is the feeder module name (e.g. "duo", "onelogin").
	Feeder string

	// SubAPI is the independently enabled stream within the feeder
	// (e.g. "auth" for Duo). Empty when the feeder has no sub-APIs.
	SubAPI string

	// Account is the vendor account or domain the records belong to.
	Account string

	// Tag is an optional suffix appended to the checkpoint and lock file
	// names. It lets multiple instances process the same stream without
	// overwriting each other's state.
	Tag string
}

// Normalized returns a copy with SubAPI defaulted to the feeder name, the
// convention for feeders without sub-APIs.
func (id Identity) Normalized() Identity {
	if id.SubAPI == "" {
		id.SubAPI = id.Feeder
	}
	return id
}

// Slug returns the deterministic filename stem for this identity, without
// the tag. Operators rely on it to find and clear checkpoint and lock files
// by hand.
func (id Identity) Slug() string {
	id = id.Normalized()
	parts := []string{id.Feeder, id.SubAPI, id.Account}
	return sanitize(strings.Join(parts, "_"))
}

// TagSuffix returns the sanitized tag, empty when none is set. State stores
// append it to their filenames so tagged instances keep separate state.
func (id Identity) TagSuffix() string {
	return sanitize(id.Tag)
}

func (id Identity) String() string {
	id = id.Normalized()
	return fmt.Sprintf("%s/%s (%s)", id.Feeder, id.SubAPI, id.Account)
}

// sanitize strips path separators and whitespace so a hostile or sloppy
// config value cannot escape the state directories.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', '\n':
			return '-'
		}
		return r
	}, s)
}
