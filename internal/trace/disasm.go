package trace

import (
	"fmt"

	"golang.org/x/arch/arm/armasm"
)

// Disassemble decodes one instruction from code, in Thumb mode when thumb
// is true (the Thumb bit on the branch that reached this address), ARM
// otherwise. It never returns an error: an instruction this runtime's
// decoder doesn't recognize is rendered as a raw word, the way the
// teacher's disasm() falls back to ".word 0x...." rather than aborting
// the trace over one undecodable opcode.
func Disassemble(code []byte, thumb bool) (text string, size int) {
	mode := armasm.ModeARM
	if thumb {
		mode = armasm.ModeThumb
	}
	inst, err := armasm.Decode(code, mode)
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", rawWord(code)), instrSize(thumb)
	}
	return inst.String(), inst.Len
}

func rawWord(code []byte) uint32 {
	var w uint32
	for i := 0; i < len(code) && i < 4; i++ {
		w |= uint32(code[i]) << (8 * i)
	}
	return w
}

func instrSize(thumb bool) int {
	if thumb {
		return 2
	}
	return 4
}
