package macho

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildTestBinary assembles a minimal but structurally valid 32-bit ARM
// Mach-O executable by hand: one __TEXT segment carrying a
// __symbol_stub4 section with two indirect-symbol-bound stubs, a symbol
// table, a dynamic symbol table, and an LC_MAIN entry point. There is no
// real machine code in it — only the metadata this package's loader
// reads.
func buildTestBinary(t *testing.T) string {
	t.Helper()
	le := binary.LittleEndian

	const (
		textAddr  = 0x4000
		stubAddr  = textAddr + 0x100
		entryoff  = 0x20
	)

	// ---- load commands, built first so their total size is known ----
	var segCmd bytes.Buffer
	segCmd.Write(le.AppendUint32(nil, lcSegment))
	segCmd.Write(le.AppendUint32(nil, 0)) // cmdsize patched below
	segCmd.Write(fixedName("__TEXT", 16))
	segCmd.Write(le.AppendUint32(nil, textAddr))
	segCmd.Write(le.AppendUint32(nil, 0x1000)) // vmsize
	segCmd.Write(le.AppendUint32(nil, 0))      // fileoff
	segCmd.Write(le.AppendUint32(nil, 0))      // filesize, patched below
	segCmd.Write(le.AppendUint32(nil, 7))      // maxprot
	segCmd.Write(le.AppendUint32(nil, 7))      // initprot
	segCmd.Write(le.AppendUint32(nil, 1))      // nsects
	segCmd.Write(le.AppendUint32(nil, 0))      // flags
	// one section: __symbol_stub4
	segCmd.Write(fixedName(symbolStubSectionName, 16))
	segCmd.Write(fixedName("__TEXT", 16))
	segCmd.Write(le.AppendUint32(nil, stubAddr))
	segCmd.Write(le.AppendUint32(nil, 2*StubEntrySize)) // size: 2 stub entries
	segCmd.Write(le.AppendUint32(nil, 0))               // offset
	segCmd.Write(le.AppendUint32(nil, 2))                // align
	segCmd.Write(le.AppendUint32(nil, 0))                // reloff
	segCmd.Write(le.AppendUint32(nil, 0))                // nreloc
	segCmd.Write(le.AppendUint32(nil, 0x80000408))        // flags (S_SYMBOL_STUBS)
	segCmd.Write(le.AppendUint32(nil, 0))                 // reserve1: index 0 into indirect syms
	segCmd.Write(le.AppendUint32(nil, StubEntrySize))     // reserve2
	if segCmd.Len() != segmentCmdSize+section32RecSize {
		t.Fatalf("segment command length = %d, want %d", segCmd.Len(), segmentCmdSize+section32RecSize)
	}
	le.PutUint32(segCmd.Bytes()[4:8], uint32(segCmd.Len()))

	var symtabCmd bytes.Buffer
	symtabCmd.Write(le.AppendUint32(nil, 0x2)) // LC_SYMTAB
	symtabCmd.Write(le.AppendUint32(nil, 24))
	symtabCmd.Write(le.AppendUint32(nil, 0)) // symoff, patched below
	symtabCmd.Write(le.AppendUint32(nil, 2)) // nsyms
	symtabCmd.Write(le.AppendUint32(nil, 0)) // stroff, patched below
	symtabCmd.Write(le.AppendUint32(nil, 0)) // strsize, patched below

	var dysymtabCmd bytes.Buffer
	dysymtabCmd.Write(le.AppendUint32(nil, 0xb)) // LC_DYSYMTAB
	dysymtabCmd.Write(le.AppendUint32(nil, 80))
	for i := 0; i < 6; i++ {
		dysymtabCmd.Write(le.AppendUint32(nil, 0)) // ilocalsym..nundefsym
	}
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // tocoffset
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // ntoc
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // modtaboff
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // nmodtab
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // extrefsymoff
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // nextrefsyms
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // indirectsymoff, patched below
	dysymtabCmd.Write(le.AppendUint32(nil, 2)) // nindirectsyms
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // extreloff
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // nextrel
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // locreloff
	dysymtabCmd.Write(le.AppendUint32(nil, 0)) // nlocrel
	if dysymtabCmd.Len() != 80 {
		t.Fatalf("dysymtab command length = %d, want 80", dysymtabCmd.Len())
	}

	var mainCmd bytes.Buffer
	mainCmd.Write(le.AppendUint32(nil, lcMain))
	mainCmd.Write(le.AppendUint32(nil, 24))
	mainCmd.Write(le.AppendUint64(nil, uint64(entryoff)))
	mainCmd.Write(le.AppendUint64(nil, 0)) // stacksize

	sizeofcmds := segCmd.Len() + symtabCmd.Len() + dysymtabCmd.Len() + mainCmd.Len()

	var file bytes.Buffer
	file.Write(le.AppendUint32(nil, 0xfeedface)) // MH_MAGIC (32-bit)
	file.Write(le.AppendUint32(nil, 12))          // CPU_TYPE_ARM
	file.Write(le.AppendUint32(nil, 0))           // cpusubtype
	file.Write(le.AppendUint32(nil, 2))           // MH_EXECUTE
	file.Write(le.AppendUint32(nil, 4))           // ncmds
	file.Write(le.AppendUint32(nil, uint32(sizeofcmds)))
	file.Write(le.AppendUint32(nil, 0)) // flags
	if file.Len() != machHeaderSize {
		t.Fatalf("header length = %d, want %d", file.Len(), machHeaderSize)
	}

	cmdsStart := file.Len()
	file.Write(segCmd.Bytes())
	symtabCmdOff := file.Len()
	file.Write(symtabCmd.Bytes())
	file.Write(dysymtabCmd.Bytes())
	file.Write(mainCmd.Bytes())
	if file.Len() != cmdsStart+sizeofcmds {
		t.Fatalf("load commands region length mismatch")
	}

	// ---- symbol/string/indirect-symbol data ----
	symoff := file.Len()
	writeNlist32 := func(nameOff uint32) {
		file.Write(le.AppendUint32(nil, nameOff))
		file.WriteByte(0x01) // N_EXT
		file.WriteByte(0)    // sect
		file.Write(le.AppendUint16(nil, 0))
		file.Write(le.AppendUint32(nil, 0)) // value
	}
	const nameMalloc = 1
	const nameFree = nameMalloc + uint32(len("_malloc\x00"))
	writeNlist32(nameMalloc)
	writeNlist32(nameFree)

	stroff := file.Len()
	file.WriteByte(0)
	file.WriteString("_malloc\x00")
	file.WriteString("_free\x00")
	strsize := file.Len() - stroff

	indirectOff := file.Len()
	file.Write(le.AppendUint32(nil, 0)) // stub 0 -> sym 0 (_malloc)
	file.Write(le.AppendUint32(nil, 1)) // stub 1 -> sym 1 (_free)

	// patch offsets now that actual positions are known
	raw := file.Bytes()
	le.PutUint32(raw[symtabCmdOff+8:], uint32(symoff))
	le.PutUint32(raw[symtabCmdOff+16:], uint32(stroff))
	le.PutUint32(raw[symtabCmdOff+20:], uint32(strsize))
	dysymtabStart := symtabCmdOff + symtabCmd.Len()
	le.PutUint32(raw[dysymtabStart+14*4:], uint32(indirectOff))

	// the segment's filesize must cover the whole file for Segment.Data
	// to read back everything written.
	segFilesizeOff := cmdsStart + 4 + 4 + 16 + 4 + 4 + 4 // past cmd,cmdsize,name,vmaddr,vmsize,fileoff
	le.PutUint32(raw[segFilesizeOff:], uint32(file.Len()))

	path := filepath.Join(t.TempDir(), "test.bin")
	if err := os.WriteFile(path, file.Bytes(), 0o644); err != nil {
		t.Fatalf("writing test binary: %v", err)
	}
	return path
}

func fixedName(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func TestLoadParsesSegmentsStubsAndEntryPoint(t *testing.T) {
	path := buildTestBinary(t)
	bin, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if bin.EntryPoint != 0x4000+0x20 {
		t.Fatalf("EntryPoint = %#x, want %#x", bin.EntryPoint, 0x4000+0x20)
	}

	if len(bin.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(bin.Segments))
	}
	if bin.Segments[0].Name != "__TEXT" {
		t.Fatalf("segment name = %q, want __TEXT", bin.Segments[0].Name)
	}
	if bin.Segments[0].Addr != 0x4000 {
		t.Fatalf("segment addr = %#x, want 0x4000", bin.Segments[0].Addr)
	}

	if bin.LazyStubs == nil {
		t.Fatalf("expected a __symbol_stub4 section")
	}
	if bin.LazyStubs.Addr != 0x4100 {
		t.Fatalf("stub section addr = %#x, want 0x4100", bin.LazyStubs.Addr)
	}
	if got, want := bin.LazyStubs.Symbols, []string{"_malloc", "_free"}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("stub symbols = %v, want %v", got, want)
	}
}
