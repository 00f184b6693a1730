// Package trace collects and annotates the dispatch events internal/log's
// Logger.Trace callback reports — an SVC call resolved by dyld, an
// objc_msgSend, a libc or pthread host function running — for
// internal/tui's live event feed and the hle run command's trace output.
package trace

import "time"

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events, one per category this runtime's
// dispatch paths actually report through internal/log: dyld's lazy/
// non-lazy symbol resolution, objc message sends, and the libc/pthread
// framework plug-ins.
const (
	Dyld     Tag = "dyld"
	Objc     Tag = "objc"
	Libc     Tag = "libc"
	Pthread  Tag = "pthread"
	Malloc   Tag = "malloc"
	String   Tag = "string"
	Retain   Tag = "retain"
	Release  Tag = "release"
	Fallback Tag = "fallback"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Raw returns tags as strings without # prefix.
func (t Tags) Raw() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Has returns true if the annotation exists.
func (a Annotations) Has(k string) bool {
	_, ok := a[k]
	return ok
}

// Event represents one dispatch event with rich metadata: a resolved SVC
// call, an objc_msgSend, a libc/pthread host function invocation.
type Event struct {
	PC          uint64      // Program counter (return address of the SVC trap)
	Tags        Tags        // Multiple hashtags, first is primary
	Name        string      // Function or selector name (e.g. "malloc", "initWithFrame:")
	Detail      string      // Additional detail (e.g. "size=24")
	Annotations Annotations // Key-value metadata
	Timestamp   time.Time   // When the event occurred
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint64, category, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// DefaultEnricher adds additional tags based on category and name,
// classifying a dispatch event the way a disassembly-side heuristic
// would classify an instruction.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	switch e.Tags[0] {
	case Objc:
		switch e.Name {
		case "objc_retain", "objc_autorelease":
			e.AddTag(Retain)
		case "objc_release":
			e.AddTag(Release)
		}

	case Libc:
		switch e.Name {
		case "malloc", "calloc", "realloc", "free":
			e.AddTag(Malloc)
		case "memcpy", "memmove", "memset", "strcpy", "strlen":
			e.AddTag(String)
		}

	case Dyld:
		if e.Detail == "unresolved" {
			e.AddTag(Fallback)
		}
	}
}
