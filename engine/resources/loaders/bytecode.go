package loaders

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// SpirvMagic is the first word of every SPIR-V module.
const SpirvMagic uint32 = 0x07230203

// Bytecode is a SPIR-V module as little endian words.
type Bytecode []uint32

type BytecodeLoader struct{}

func (BytecodeLoader) Parse(_ *resources.Scope, data []byte) (Bytecode, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("bytecode size %d is not a multiple of 4", len(data))
	}
	code := bytesToBytecode(data)
	if code[0] != SpirvMagic {
		return nil, fmt.Errorf("bad SPIR-V magic 0x%08x", code[0])
	}
	return code, nil
}

func bytesToBytecode(b []byte) Bytecode {
	code := make(Bytecode, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return code
}
