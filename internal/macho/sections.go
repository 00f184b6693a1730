package macho

import "encoding/binary"

const (
	lcSegment        = 0x1
	segmentCmdSize   = 56 // segment_command: cmd,cmdsize,segname[16],vmaddr,vmsize,fileoff,filesize,maxprot,initprot,nsects,flags
	section32RecSize = 68 // Section32: name[16],seg[16],addr,size,offset,align,reloff,nreloc,flags,reserve1,reserve2
)

// sectionReserve1 maps a section name to its Reserve1 field: the
// starting index into the indirect symbol table that section's entries
// read from. debug/macho parses Section32/Section64 itself but doesn't
// surface Reserve1/Reserve2 on the Section type it returns, so this
// package re-reads the raw LC_SEGMENT command bytes to recover it —
// the same "read what the standard parser discards" approach
// readEntryPoint uses for LC_MAIN/LC_UNIXTHREAD.
func sectionReserve1(raw []byte) (map[string]uint32, error) {
	if len(raw) < machHeaderSize {
		return nil, nil
	}
	ncmds := binary.LittleEndian.Uint32(raw[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(raw[20:24])

	off := uint32(machHeaderSize)
	end := off + sizeofcmds
	if int(end) > len(raw) {
		return nil, nil
	}

	out := make(map[string]uint32)
	for i := uint32(0); i < ncmds && off+8 <= end; i++ {
		cmd := binary.LittleEndian.Uint32(raw[off : off+4])
		cmdsize := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		if cmdsize < 8 || off+cmdsize > uint32(len(raw)) {
			break
		}

		if cmd == lcSegment {
			nsects := binary.LittleEndian.Uint32(raw[off+48 : off+52])
			secOff := off + segmentCmdSize
			for s := uint32(0); s < nsects; s++ {
				if secOff+section32RecSize > off+cmdsize {
					break
				}
				name := cString(raw[secOff : secOff+16])
				// Section32: name[16], seg[16], addr, size, offset, align,
				// reloff, nreloc, flags, reserve1, reserve2 — reserve1 sits
				// after two 16-byte names and seven 4-byte fields.
				const reserve1Off = 16 + 16 + 7*4
				reserve1 := binary.LittleEndian.Uint32(raw[secOff+reserve1Off : secOff+reserve1Off+4])
				out[name] = reserve1
				secOff += section32RecSize
			}
		}

		off += cmdsize
	}
	return out, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
