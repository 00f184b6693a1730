package macho

import (
	"debug/macho"
	"encoding/binary"
	"fmt"

	"github.com/hle-go/corehle/internal/mem"
)

// machHeaderSize is sizeof(struct mach_header) for a 32-bit (non-_64)
// image: magic, cputype, cpusubtype, filetype, ncmds, sizeofcmds, flags —
// seven uint32 fields, no trailing reserved word. Every ARM binary this
// loader accepts is 32-bit, so this is the only header shape needed.
const machHeaderSize = 28

const (
	lcUnixthread   = 0x5
	armThreadState = 1
)

// readEntryPoint extracts the guest entry address from whichever load
// command carries it. debug/macho parses segments and symbol tables but
// has no API for LC_MAIN or LC_UNIXTHREAD, so this reads the load
// command stream directly off disk.
func readEntryPoint(raw []byte, f *macho.File) (mem.GuestUSize, error) {
	if len(raw) < machHeaderSize {
		return 0, fmt.Errorf("macho: file is too short to contain a header")
	}

	ncmds := binary.LittleEndian.Uint32(raw[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(raw[20:24])

	off := uint32(machHeaderSize)
	end := off + sizeofcmds
	if int(end) > len(raw) {
		return 0, fmt.Errorf("macho: load commands run past end of file")
	}

	for i := uint32(0); i < ncmds && off+8 <= end; i++ {
		cmd := binary.LittleEndian.Uint32(raw[off : off+4])
		cmdsize := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		if cmdsize < 8 || off+cmdsize > uint32(len(raw)) {
			return 0, fmt.Errorf("macho: malformed load command at offset %d", off)
		}

		switch cmd {
		case lcMain:
			// entry_point_command: cmd, cmdsize, entryoff uint64, stacksize uint64.
			entryoff := binary.LittleEndian.Uint64(raw[off+8 : off+16])
			return textEntryAddr(f, mem.GuestUSize(entryoff)), nil

		case lcUnixthread:
			addr, ok := unixthreadPC(raw[off+8 : off+cmdsize])
			if ok {
				return addr, nil
			}
		}

		off += cmdsize
	}

	return 0, fmt.Errorf("macho: no LC_MAIN or ARM LC_UNIXTHREAD entry point found")
}

// textEntryAddr converts an LC_MAIN file offset into a guest virtual
// address by adding it to __TEXT's load address: entryoff is relative to
// the start of the file, and __TEXT is conventionally mapped starting at
// file offset 0, so __TEXT.Addr + entryoff is the guest PC.
func textEntryAddr(f *macho.File, entryoff mem.GuestUSize) mem.GuestUSize {
	if text := f.Segment("__TEXT"); text != nil {
		return mem.GuestUSize(text.Addr) + entryoff
	}
	return entryoff
}

// unixthreadPC decodes an LC_UNIXTHREAD command's flavor/state pairs,
// looking for ARM_THREAD_STATE and returning its saved PC. The state is
// 17 32-bit words: r0-r12, sp, lr, pc, cpsr — PC is word index 15.
func unixthreadPC(body []byte) (mem.GuestUSize, bool) {
	const armStateWords = 17
	pos := 0
	for pos+8 <= len(body) {
		flavor := binary.LittleEndian.Uint32(body[pos : pos+4])
		count := binary.LittleEndian.Uint32(body[pos+4 : pos+8])
		pos += 8
		stateBytes := int(count) * 4
		if pos+stateBytes > len(body) {
			return 0, false
		}
		if flavor == armThreadState && count >= armStateWords {
			pcOff := pos + 15*4
			return mem.GuestUSize(binary.LittleEndian.Uint32(body[pcOff : pcOff+4])), true
		}
		pos += stateBytes
	}
	return 0, false
}
