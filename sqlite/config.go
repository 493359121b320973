package sqlite

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OpenFlags selects access mode and handle options. The bit values match the
// engine's own open flags so they can be passed through from a host unchanged.
type OpenFlags int

const (
	ReadOnly     OpenFlags = 0x00000001
	ReadWrite    OpenFlags = 0x00000002
	Create       OpenFlags = 0x00000004
	URI          OpenFlags = 0x00000040
	Memory       OpenFlags = 0x00000080
	NoMutex      OpenFlags = 0x00008000
	FullMutex    OpenFlags = 0x00010000
	SharedCache  OpenFlags = 0x00020000
	PrivateCache OpenFlags = 0x00040000
	NoFollow     OpenFlags = 0x01000000
)

var flagNames = []struct {
	flag OpenFlags
	name string
}{
	{ReadOnly, "ro"},
	{ReadWrite, "rw"},
	{Create, "create"},
	{URI, "uri"},
	{Memory, "memory"},
	{NoMutex, "no-mutex"},
	{FullMutex, "full-mutex"},
	{SharedCache, "shared-cache"},
	{PrivateCache, "private-cache"},
	{NoFollow, "no-follow"},
}

func (f OpenFlags) Has(flag OpenFlags) bool {
	return f&flag == flag
}

func (f OpenFlags) String() string {
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseOpenFlags parses a comma or pipe separated list of flag names as
// printed by OpenFlags.String, e.g. "rw,create".
func ParseOpenFlags(s string) (OpenFlags, error) {
	var f OpenFlags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		part = strings.TrimSpace(strings.ToLower(part))
		found := false
		for _, fn := range flagNames {
			if fn.name == part {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, &Error{
				Code:    CodeConfiguration,
				Message: "unknown open flag",
				Details: part,
			}
		}
	}
	return f, nil
}

// Config describes a connection to open.
type Config struct {
	// Location is a file path, ":memory:", or a "file:" URI when Flags
	// includes URI.
	Location string
	Flags    OpenFlags
	// BusyTimeout bounds how long a statement waits on a lock held by
	// another connection. Zero fails immediately on contention.
	BusyTimeout time.Duration
	// Tracer receives connection events. Optional, defaults to a SlogTracer
	// on slog.Default().
	Tracer Tracer
}

func configError(message string, details string) *Error {
	return &Error{Code: CodeConfiguration, Message: message, Details: details}
}

// normalize validates c and fills defaults. It never touches storage.
func (c Config) normalize() (Config, error) {
	if strings.TrimSpace(c.Location) == "" {
		return c, configError("location is required", "")
	}
	if c.BusyTimeout < 0 {
		return c, configError("busy timeout must not be negative", c.BusyTimeout.String())
	}

	access := c.Flags & (ReadOnly | ReadWrite | Create)
	switch {
	case access == 0:
		return c, configError("flags must include one of ro, rw or create", c.Flags.String())
	case c.Flags.Has(ReadOnly) && c.Flags.Has(Create):
		return c, configError("create cannot be combined with read-only", c.Flags.String())
	case c.Flags.Has(ReadOnly) && c.Flags.Has(ReadWrite):
		return c, configError("read-only cannot be combined with read-write", c.Flags.String())
	case c.Flags.Has(NoMutex) && c.Flags.Has(FullMutex):
		return c, configError("no-mutex cannot be combined with full-mutex", c.Flags.String())
	case c.Flags.Has(SharedCache) && c.Flags.Has(PrivateCache):
		return c, configError("shared-cache cannot be combined with private-cache", c.Flags.String())
	case c.Flags.Has(NoFollow):
		return c, configError("no-follow is not supported by the driver", c.Flags.String())
	}
	if c.Flags.Has(Create) {
		c.Flags |= ReadWrite
	}
	if c.Flags.Has(URI) && !strings.HasPrefix(c.Location, "file:") {
		return c, configError("uri flag requires a file: location", c.Location)
	}
	if c.Tracer == nil {
		c.Tracer = NewSlogTracer(nil)
	}
	return c, nil
}

var pathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// dsn renders the data source name understood by mattn/go-sqlite3.
func (c Config) dsn() string {
	q := url.Values{}
	name := c.Location
	if c.Flags.Has(URI) {
		if i := strings.IndexByte(name, '?'); i >= 0 {
			if existing, err := url.ParseQuery(name[i+1:]); err == nil {
				q = existing
			}
			name = name[:i]
		}
	} else {
		name = "file:" + pathEscaper.Replace(name)
	}

	switch {
	case c.Flags.Has(Memory) || c.Location == ":memory:":
		q.Set("mode", "memory")
	case c.Flags.Has(ReadOnly):
		q.Set("mode", "ro")
	case c.Flags.Has(Create):
		q.Set("mode", "rwc")
	default:
		q.Set("mode", "rw")
	}
	switch {
	case c.Flags.Has(SharedCache):
		q.Set("cache", "shared")
	case c.Flags.Has(PrivateCache):
		q.Set("cache", "private")
	}
	switch {
	case c.Flags.Has(NoMutex):
		q.Set("_mutex", "no")
	case c.Flags.Has(FullMutex):
		q.Set("_mutex", "full")
	}
	q.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	return name + "?" + q.Encode()
}
