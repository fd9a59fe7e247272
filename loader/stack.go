package loader

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/alansparrow/pintos-pintos/memory"
)

// StackPage is the single page of user stack.
const StackPage = memory.PhysBase - memory.PageSize

var ErrArgsTooLong = errors.New("arguments do not fit on the stack")

// setupStack pushes args the way the C runtime expects them and returns the
// resulting stack pointer:
//
//	argument strings, last argument highest
//	padding to a word boundary
//	argv[argc] = 0, argv[argc-1] ... argv[0]
//	argv
//	argc
//	return address = 0
func setupStack(vm *memory.VirtualMemory, args []string) (memory.Addr, error) {
	strBytes := 0
	for _, str := range args {
		strBytes += len(str) + 1
	}

	words := len(args) + 1 + // argv and null
		3 // argv, argc, return address

	total := (strBytes+3)&^3 + 4*words
	if total > memory.PageSize {
		return 0, errors.Wrapf(ErrArgsTooLong, "%d bytes", total)
	}

	esp := memory.PhysBase - memory.Addr(total)
	mem := make([]byte, total)

	le := binary.LittleEndian

	argv := make([]memory.Addr, len(args))

	next := total
	for i := len(args) - 1; i >= 0; i-- {
		next -= len(args[i]) + 1
		copy(mem[next:], args[i])
		mem[next+len(args[i])] = 0
		argv[i] = esp + memory.Addr(next)
	}

	argvStart := 12

	le.PutUint32(mem[0:], 0)                             // return address
	le.PutUint32(mem[4:], uint32(len(args)))             // argc
	le.PutUint32(mem[8:], uint32(esp)+uint32(argvStart)) // argv

	ptr := mem[argvStart:]
	for _, a := range argv {
		le.PutUint32(ptr, uint32(a))
		ptr = ptr[4:]
	}
	le.PutUint32(ptr, 0) // null after argv

	if _, err := vm.WriteAt(mem, int64(esp)); err != nil {
		return 0, err
	}

	return esp, nil
}

// ReadArgs recovers argv from a stack laid out by setupStack.
func ReadArgs(vm *memory.VirtualMemory, esp memory.Addr) ([]string, error) {
	argc, err := vm.ReadUint32(esp + 4)
	if err != nil {
		return nil, err
	}

	argvp, err := vm.ReadUint32(esp + 8)
	if err != nil {
		return nil, err
	}

	if argc > memory.PageSize/4 {
		return nil, errors.Wrapf(ErrArgsTooLong, "argc=%d", argc)
	}

	args := make([]string, argc)

	for i := range args {
		ptr, err := vm.ReadUint32(memory.Addr(argvp) + memory.Addr(4*i))
		if err != nil {
			return nil, err
		}

		args[i], err = readString(vm, memory.Addr(ptr))
		if err != nil {
			return nil, err
		}
	}

	return args, nil
}

func readString(vm *memory.VirtualMemory, addr memory.Addr) (string, error) {
	var (
		buf []byte
		b   [1]byte
	)

	for a := addr; a < memory.PhysBase; a++ {
		if _, err := vm.ReadAt(b[:], int64(a)); err != nil {
			return "", err
		}

		if b[0] == 0 {
			return string(buf), nil
		}

		buf = append(buf, b[0])
	}

	return "", errors.Wrapf(memory.ErrInvalidMemoryAccess, "unterminated string at %#x", addr)
}
