// Command hle runs a 32-bit ARM Mach-O binary under the emulator core:
// it loads segments and stub sections, resolves imports against the
// libc/pthread/objc host implementations, and drives the guest program
// from its entry point, either headless or inside the interactive
// terminal debugger.
//
// Built as a cobra root command with run, tui, console and info
// subcommands and a persistent --config flag; the run command collects
// trace events through the logger's SetOnTrace callback.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hle-go/corehle/internal/console"
	"github.com/hle-go/corehle/internal/dyld"
	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/frameworks/libc"
	"github.com/hle-go/corehle/internal/frameworks/pthread"
	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/macho"
	"github.com/hle-go/corehle/internal/mem"
	"github.com/hle-go/corehle/internal/trace"
	"github.com/hle-go/corehle/internal/tui"
)

var (
	verbose    bool
	maxInsn    int
	optionsCfg string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hle",
		Short: "Run ARM Mach-O binaries under the high-level emulator core",
		Long: `hle loads a 32-bit ARM Mach-O executable, maps its segments into guest
memory, resolves its imports against this runtime's libc/pthread/
Objective-C implementations, and runs it from its entry point.

Examples:
  hle run MyApp                 # run headless, print a dispatch summary
  hle run MyApp -v               # print every resolved call as it happens
  hle tui MyApp                  # run inside the interactive debugger
  hle info MyApp                 # show segments, entry point, stub counts`,
	}
	rootCmd.PersistentFlags().StringVar(&optionsCfg, "config", "", "path to a YAML options file")

	runCmd := &cobra.Command{
		Use:   "run <binary>",
		Short: "Run a binary headlessly and print a dispatch trace",
		Args:  cobra.ExactArgs(1),
		RunE:  runBinary,
	}
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every resolved call and decoded instruction")
	runCmd.Flags().IntVarP(&maxInsn, "num", "n", 2000, "max instructions to disassemble in verbose mode")
	rootCmd.AddCommand(runCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui <binary>",
		Short: "Run a binary inside the interactive terminal debugger",
		Args:  cobra.ExactArgs(1),
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	consoleCmd := &cobra.Command{
		Use:   "console <binary> <script.js>",
		Short: "Load a binary and evaluate a JavaScript inspection script against it",
		Args:  cobra.ExactArgs(2),
		RunE:  runConsole,
	}
	rootCmd.AddCommand(consoleCmd)

	infoCmd := &cobra.Command{
		Use:   "info <binary>",
		Short: "Show a binary's segments, entry point, and stub sections",
		Args:  cobra.ExactArgs(1),
		RunE:  showInfo,
	}
	rootCmd.AddCommand(infoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEnvironment loads options from optionsCfg (or the defaults) and
// constructs an Environment with every framework plug-in this tree ships
// installed into its host function registry.
func buildEnvironment() (*environment.Environment, error) {
	log.Init(verbose)

	opts := environment.DefaultOptions()
	if optionsCfg != "" {
		var err error
		opts, err = environment.LoadOptions(optionsCfg)
		if err != nil {
			return nil, err
		}
	}

	registry := dyld.NewRegistry()
	libc.Install(registry)
	libc.InstallTime(registry)
	pthread.Install(registry)

	return environment.New(opts, registry)
}

func runBinary(cmd *cobra.Command, args []string) error {
	binPath := args[0]

	env, err := buildEnvironment()
	if err != nil {
		return fmt.Errorf("build environment: %w", err)
	}

	entry, err := env.LoadBinary(binPath)
	if err != nil {
		return fmt.Errorf("load binary: %w", err)
	}

	callCount := 0
	log.L.SetOnTrace(func(pc uint64, category, name, detail string) {
		callCount++
		e := trace.NewEvent(pc, category, name, detail)
		trace.DefaultEnricher(e)
		if verbose {
			fmt.Printf("  %-8s %s  %s\n", e.PrimaryTag(), name, detail)
		}
	})

	insnCount := 0
	if verbose {
		unhook, err := env.CPUv.HookCode(func(addr, size uint32) {
			insnCount++
			if insnCount > maxInsn {
				return
			}
			code, rerr := env.CPUv.ReadAt(uint64(addr), 4)
			if rerr != nil {
				return
			}
			text, _ := trace.Disassemble(code, env.CPUv.Thumb())
			fmt.Printf("[%5d] 0x%08x  %s\n", insnCount, addr, text)
		})
		if err != nil {
			return fmt.Errorf("install instruction hook: %w", err)
		}
		defer unhook()
	}

	printHeader(binPath, entry)
	env.Run(entry)

	fmt.Printf("\n%d calls resolved", callCount)
	if verbose {
		fmt.Printf(", %d instructions", insnCount)
	}
	fmt.Printf("  pc=0x%08x sp=0x%08x\n", env.CPUv.PC(), env.CPUv.SP())
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	env, err := buildEnvironment()
	if err != nil {
		return fmt.Errorf("build environment: %w", err)
	}

	entry, err := env.LoadBinary(args[0])
	if err != nil {
		return fmt.Errorf("load binary: %w", err)
	}

	return tui.New(env, entry).Run()
}

func runConsole(cmd *cobra.Command, args []string) error {
	binPath, scriptPath := args[0], args[1]

	env, err := buildEnvironment()
	if err != nil {
		return fmt.Errorf("build environment: %w", err)
	}

	if _, err := env.LoadBinary(binPath); err != nil {
		return fmt.Errorf("load binary: %w", err)
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	c := console.New(env)
	out, err := c.Eval(string(script))
	if err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	if out != "" {
		fmt.Println(out)
	}
	return nil
}

func printHeader(binPath string, entry mem.GuestUSize) {
	name := filepath.Base(binPath)
	fmt.Printf("loading %s, entry 0x%08x\n", name, entry)
}

func showInfo(cmd *cobra.Command, args []string) error {
	binPath := args[0]

	absPath, err := filepath.Abs(binPath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("file not found: %s", absPath)
	}

	bin, err := macho.Load(absPath)
	if err != nil {
		return fmt.Errorf("load binary: %w", err)
	}

	fmt.Printf("Binary:      %s\n", filepath.Base(absPath))
	fmt.Printf("Entry point: 0x%x\n", bin.EntryPoint)
	fmt.Printf("Segments:    %d\n", len(bin.Segments))
	for _, seg := range bin.Segments {
		fmt.Printf("  %-10s addr=0x%08x size=0x%x filesize=%d\n", seg.Name, seg.Addr, seg.MemSize, len(seg.Data))
	}

	printStubSection := func(label string, s *macho.StubSection) {
		if s == nil {
			fmt.Printf("%s: none\n", label)
			return
		}
		fmt.Printf("%s: %d entries at 0x%08x (entry size %d)\n", label, len(s.Symbols), s.Addr, s.EntrySize)
		for _, name := range s.Symbols {
			fmt.Printf("  %s\n", name)
		}
	}
	printStubSection("Lazy stubs", bin.LazyStubs)
	printStubSection("Non-lazy pointers", bin.NonLazyPointers)
	printStubSection("Lazy pointers", bin.LazyPointers)

	return nil
}
