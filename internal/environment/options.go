package environment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hle-go/corehle/internal/mem"
)

// Options configures a fresh Environment: how much of the guest address
// space is reserved as a null-page guard, how big each thread's stack is,
// where dyld may write its non-lazy call thunks, which symbol to start
// execution at, and how noisy logging should be. Defaults mirror
// touchHLE's own (mem.rs): a 1 MiB main-thread stack and a 512 KiB
// secondary-thread stack.
type Options struct {
	NullSegmentSize mem.GuestUSize `yaml:"null_segment_size"`

	MainThreadStackSize      mem.GuestUSize `yaml:"main_thread_stack_size"`
	SecondaryThreadStackSize mem.GuestUSize `yaml:"secondary_thread_stack_size"`

	ThunkArenaBase mem.GuestUSize `yaml:"thunk_arena_base"`

	EntryPointSymbol string `yaml:"entry_point_symbol"`

	LogLevel string `yaml:"log_level"`

	Frameworks []string `yaml:"frameworks"`
}

// DefaultOptions returns the touchHLE-compatible defaults: a 4 KiB null
// guard page, a 1 MiB main-thread stack, a 512 KiB secondary-thread stack,
// and a thunk arena placed just past the conventional 32-bit program
// image's low address range.
func DefaultOptions() Options {
	return Options{
		NullSegmentSize:          4096,
		MainThreadStackSize:      1 << 20,
		SecondaryThreadStackSize: 512 << 10,
		ThunkArenaBase:           0x0000_2000,
		EntryPointSymbol:         "start",
		LogLevel:                 "info",
	}
}

// LoadOptions reads a YAML options file, starting from DefaultOptions and
// overriding whatever fields the file sets. A missing file is not an
// error: callers that have no config file at all just get the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return Options{}, fmt.Errorf("environment: reading options file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("environment: parsing options file %q: %w", path, err)
	}
	return opts, nil
}
