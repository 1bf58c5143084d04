package wasmbin

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"github.com/wasip1vfs/linker/internal/leb128"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func decodeCodeSection(d *decoder, m *wasmir.Module, funcTypes []wasmir.TypeID) error {
	n, err := d.readU32()
	if err != nil {
		return err
	}
	if int(n) != len(funcTypes) {
		return fmt.Errorf("wasmbin: code section has %d entries but function section declared %d", n, len(funcTypes))
	}
	for i := uint32(0); i < n; i++ {
		size, err := d.readU32()
		if err != nil {
			return err
		}
		body := d.takeBytes(int(size))
		fn := wasmir.Function{ID: m.NextFuncID(), TypeID: funcTypes[i]}
		cd := &decoder{buf: body}
		locals, err := decodeLocals(cd)
		if err != nil {
			return err
		}
		fn.Locals = locals
		b, err := decodeFuncBody(cd)
		if err != nil {
			return errors.Wrapf(err, "wasmbin: function %d body", fn.ID)
		}
		fn.Body = b
		m.Functions = append(m.Functions, fn)
	}
	return nil
}

func decodeLocals(d *decoder) ([]wasmir.ValueType, error) {
	groups, err := d.readU32()
	if err != nil {
		return nil, err
	}
	var out []wasmir.ValueType
	for i := uint32(0); i < groups; i++ {
		count, err := d.readU32()
		if err != nil {
			return nil, err
		}
		vt := wasmir.ValueType(d.readByte())
		for j := uint32(0); j < count; j++ {
			out = append(out, vt)
		}
	}
	return out, nil
}

// decodeFuncBody parses the instruction stream of a function, building the
// InstrSeq tree: each nested block/loop/if/else becomes a fresh sequence in
// the Body, addressed by SeqID from its parent's structured instruction.
func decodeFuncBody(d *decoder) (*wasmir.Body, error) {
	b := wasmir.NewBody()
	_, err := decodeInstrsInto(d, b, b.Entry())
	return b, err
}

// decodeInstrsInto decodes instructions into seq until it consumes a matching
// End (0x0b) or, for an `if`'s then-branch, an Else (0x05); it returns which
// terminator was hit so the caller (the `if` handling below) knows whether an
// else-arm follows.
func decodeInstrsInto(d *decoder, b *wasmir.Body, seq *wasmir.InstrSeq) (terminator byte, err error) {
	for {
		if d.remaining() == 0 {
			return 0, errors.New("wasmbin: instruction stream ended without End")
		}
		op := d.readByte()
		switch wasmir.Opcode(op) {
		case wasmir.OpEnd:
			return byte(wasmir.OpEnd), nil
		case wasmir.OpElse:
			return byte(wasmir.OpElse), nil
		case wasmir.OpBlock, wasmir.OpLoop:
			bt, hasBT, err := decodeBlockType(d)
			if err != nil {
				return 0, err
			}
			childID := b.NewSeq()
			if _, err := decodeInstrsInto(d, b, b.Seq(childID)); err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{
				Op: wasmir.Opcode(op), Targets: []wasmir.SeqID{childID},
				BlockType: bt, HasBlockType: hasBT,
			})
		case wasmir.OpIf:
			bt, hasBT, err := decodeBlockType(d)
			if err != nil {
				return 0, err
			}
			thenID := b.NewSeq()
			term, err := decodeInstrsInto(d, b, b.Seq(thenID))
			if err != nil {
				return 0, err
			}
			in := wasmir.Instr{Op: wasmir.OpIf, Targets: []wasmir.SeqID{thenID}, BlockType: bt, HasBlockType: hasBT}
			if term == byte(wasmir.OpElse) {
				elseID := b.NewSeq()
				if _, err := decodeInstrsInto(d, b, b.Seq(elseID)); err != nil {
					return 0, err
				}
				in.HasElse = true
				in.ElseTarget = elseID
			}
			seq.Instrs = append(seq.Instrs, in)
		case wasmir.OpBr, wasmir.OpBrIf:
			depth, err := d.readU32()
			if err != nil {
				return 0, err
			}
			// depth is a relative branch depth in the binary format; this IR
			// keeps it as an opaque relative target in Targets[0] rather than
			// resolving it to an absolute SeqID, since passes that rewrite
			// control flow in this pipeline only ever splice whole
			// sequences, never renumber branch depths.
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), Targets: []wasmir.SeqID{wasmir.SeqID(depth)}})
		case wasmir.OpBrTable:
			count, err := d.readU32()
			if err != nil {
				return 0, err
			}
			targets := make([]wasmir.SeqID, count)
			for i := range targets {
				v, err := d.readU32()
				if err != nil {
					return 0, err
				}
				targets[i] = wasmir.SeqID(v)
			}
			def, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.OpBrTable, Targets: targets, Default: wasmir.SeqID(def)})
		case wasmir.OpCall, wasmir.OpReturnCall:
			f, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), FuncID: wasmir.FuncID(f)})
		case wasmir.OpCallIndirect, wasmir.OpReturnCallIndirect:
			tid, err := d.readU32()
			if err != nil {
				return 0, err
			}
			tab, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), TypeID: wasmir.TypeID(tid), TableID: wasmir.TableID(tab)})
		case wasmir.OpLocalGet, wasmir.OpLocalSet, wasmir.OpLocalTee:
			idx, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), LocalIdx: idx})
		case wasmir.OpGlobalGet, wasmir.OpGlobalSet:
			idx, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), GlobalID: wasmir.GlobalID(idx)})
		case wasmir.OpI32Const:
			v, err := d.readI32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: v})
		case wasmir.OpI64Const:
			v, err := d.readI64()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.OpI64Const, ConstI64: v})
		case wasmir.OpF32Const:
			v, err := d.readF32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.OpF32Const, ConstF32: v})
		case wasmir.OpF64Const:
			v, err := d.readF64()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.OpF64Const, ConstF64: v})
		case wasmir.OpMemorySize, wasmir.OpMemoryGrow:
			mid, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), MemID: wasmir.MemID(mid)})
		case 0xfc: // bulk-memory / misc prefixed opcode
			sub, err := d.readU32()
			if err != nil {
				return 0, err
			}
			in := wasmir.Instr{Misc: true, MiscSub: wasmir.Opcode(sub)}
			switch wasmir.Opcode(sub) {
			case wasmir.MiscMemoryCopy:
				dst, err := d.readU32()
				if err != nil {
					return 0, err
				}
				src, err := d.readU32()
				if err != nil {
					return 0, err
				}
				in.MemID2 = wasmir.MemID(dst)
				in.MemID = wasmir.MemID(src)
			case wasmir.MiscDataDrop:
				idx, err := d.readU32()
				if err != nil {
					return 0, err
				}
				in.DataSegID = wasmir.DataSegID(idx)
			case wasmir.MiscMemoryInit:
				idx, err := d.readU32()
				if err != nil {
					return 0, err
				}
				in.DataSegID = wasmir.DataSegID(idx)
				mid, err := d.readU32()
				if err != nil {
					return 0, err
				}
				in.MemID = wasmir.MemID(mid)
			case wasmir.MiscMemoryFill:
				mid, err := d.readU32()
				if err != nil {
					return 0, err
				}
				in.MemID = wasmir.MemID(mid)
			}
			seq.Instrs = append(seq.Instrs, in)
		case 0xfe: // atomic prefixed opcode
			sub, err := d.readU32()
			if err != nil {
				return 0, err
			}
			memFlags, err := d.readU32()
			if err != nil {
				return 0, err
			}
			memOff, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Atomic: true, AtomicSub: wasmir.Opcode(sub), Align: memFlags, Offset: memOff})
		case wasmir.OpI32Load, wasmir.OpI32Store, wasmir.OpI32Store8:
			align, mid, err := decodeMemarg(d)
			if err != nil {
				return 0, err
			}
			off, err := d.readU32()
			if err != nil {
				return 0, err
			}
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op), Align: align, Offset: off, MemID: mid})
		case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpI32Add:
			seq.Instrs = append(seq.Instrs, wasmir.Instr{Op: wasmir.Opcode(op)})
		default:
			return 0, fmt.Errorf("wasmbin: unsupported opcode 0x%x", op)
		}
	}
}

// decodeMemarg decodes a load/store memarg, honoring the multi-memory
// proposal's repurposing of the alignment field's bit 6 to signal an
// explicit trailing memory index (needed because the external module-merger
// this pipeline shells out to renumbers every memory reference, including
// plain load/store instructions, when it concatenates modules — see spec
// §4.11 "External module merger").
func decodeMemarg(d *decoder) (align uint32, mid wasmir.MemID, err error) {
	flags, err := d.readU32()
	if err != nil {
		return 0, 0, err
	}
	if flags&0x40 != 0 {
		m, err := d.readU32()
		if err != nil {
			return 0, 0, err
		}
		return flags &^ 0x40, wasmir.MemID(m), nil
	}
	return flags, 0, nil
}

func encodeMemarg(out *bytes.Buffer, align uint32, mid wasmir.MemID) {
	if mid != 0 {
		out.Write(leb128.EncodeUint32(align | 0x40))
		out.Write(leb128.EncodeUint32(uint32(mid)))
		return
	}
	out.Write(leb128.EncodeUint32(align))
}

// decodeBlockType decodes a Wasm blocktype: either the single byte 0x40
// ("empty", no result), one of the single-byte valtypes, or (unsupported by
// this pipeline, since it never synthesizes multi-value blocks) a signed
// LEB128 type index.
func decodeBlockType(d *decoder) (wasmir.ValueType, bool, error) {
	b := d.buf[d.pos]
	switch wasmir.ValueType(b) {
	case 0x40:
		d.pos++
		return 0, false, nil
	case wasmir.ValueTypeI32, wasmir.ValueTypeI64, wasmir.ValueTypeF32, wasmir.ValueTypeF64,
		wasmir.ValueTypeV128, wasmir.ValueTypeFuncref, wasmir.ValueTypeExternref:
		d.pos++
		return wasmir.ValueType(b), true, nil
	default:
		return 0, false, fmt.Errorf("wasmbin: multi-value blocktype (type index) not supported")
	}
}

func encodeBlockType(out *bytes.Buffer, bt wasmir.ValueType, has bool) {
	if !has {
		out.WriteByte(0x40)
		return
	}
	out.WriteByte(byte(bt))
}

func encodeCodeSection(m *wasmir.Module) ([]byte, error) {
	var out bytes.Buffer
	out.Write(leb128.EncodeUint32(uint32(len(m.Functions))))
	for _, fn := range m.Functions {
		var body bytes.Buffer
		encodeLocals(&body, fn.Locals)
		if err := encodeFuncBody(&body, fn.Body); err != nil {
			return nil, errors.Wrapf(err, "wasmbin: function %d body", fn.ID)
		}
		out.Write(leb128.EncodeUint32(uint32(body.Len())))
		out.Write(body.Bytes())
	}
	return out.Bytes(), nil
}

func encodeLocals(out *bytes.Buffer, locals []wasmir.ValueType) {
	// group consecutive identical local types, matching how a real compiler
	// emits the locals vector (and what the binary format expects for
	// density, even though a degenerate one-group-per-local encoding would
	// also be legal).
	type group struct {
		vt    wasmir.ValueType
		count uint32
	}
	var groups []group
	for _, vt := range locals {
		if len(groups) > 0 && groups[len(groups)-1].vt == vt {
			groups[len(groups)-1].count++
		} else {
			groups = append(groups, group{vt: vt, count: 1})
		}
	}
	out.Write(leb128.EncodeUint32(uint32(len(groups))))
	for _, g := range groups {
		out.Write(leb128.EncodeUint32(g.count))
		out.WriteByte(byte(g.vt))
	}
}

func encodeFuncBody(out *bytes.Buffer, b *wasmir.Body) error {
	if err := encodeSeq(out, b, b.Entry()); err != nil {
		return err
	}
	out.WriteByte(byte(wasmir.OpEnd))
	return nil
}

func encodeSeq(out *bytes.Buffer, b *wasmir.Body, seq *wasmir.InstrSeq) error {
	for _, in := range seq.Instrs {
		if in.Raw != nil {
			out.Write(in.Raw)
			continue
		}
		switch in.Op {
		case wasmir.OpBlock, wasmir.OpLoop:
			out.WriteByte(byte(in.Op))
			encodeBlockType(out, in.BlockType, in.HasBlockType)
			if err := encodeSeq(out, b, b.Seq(in.Targets[0])); err != nil {
				return err
			}
			out.WriteByte(byte(wasmir.OpEnd))
		case wasmir.OpIf:
			out.WriteByte(byte(wasmir.OpIf))
			encodeBlockType(out, in.BlockType, in.HasBlockType)
			if err := encodeSeq(out, b, b.Seq(in.Targets[0])); err != nil {
				return err
			}
			if in.HasElse {
				out.WriteByte(byte(wasmir.OpElse))
				if err := encodeSeq(out, b, b.Seq(in.ElseTarget)); err != nil {
					return err
				}
			}
			out.WriteByte(byte(wasmir.OpEnd))
		case wasmir.OpBr, wasmir.OpBrIf:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(uint32(in.Targets[0])))
		case wasmir.OpBrTable:
			out.WriteByte(byte(wasmir.OpBrTable))
			out.Write(leb128.EncodeUint32(uint32(len(in.Targets))))
			for _, t := range in.Targets {
				out.Write(leb128.EncodeUint32(uint32(t)))
			}
			out.Write(leb128.EncodeUint32(uint32(in.Default)))
		case wasmir.OpCall, wasmir.OpReturnCall:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(uint32(in.FuncID)))
		case wasmir.OpCallIndirect, wasmir.OpReturnCallIndirect:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(uint32(in.TypeID)))
			out.Write(leb128.EncodeUint32(uint32(in.TableID)))
		case wasmir.OpLocalGet, wasmir.OpLocalSet, wasmir.OpLocalTee:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(in.LocalIdx))
		case wasmir.OpGlobalGet, wasmir.OpGlobalSet:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(uint32(in.GlobalID)))
		case wasmir.OpI32Const:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeInt32(in.ConstI32))
		case wasmir.OpI64Const:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeInt64(in.ConstI64))
		case wasmir.OpF32Const:
			out.WriteByte(byte(in.Op))
			writeF32(out, in.ConstF32)
		case wasmir.OpF64Const:
			out.WriteByte(byte(in.Op))
			writeF64(out, in.ConstF64)
		case wasmir.OpMemorySize, wasmir.OpMemoryGrow:
			out.WriteByte(byte(in.Op))
			out.Write(leb128.EncodeUint32(uint32(in.MemID)))
		case wasmir.OpI32Load, wasmir.OpI32Store, wasmir.OpI32Store8:
			out.WriteByte(byte(in.Op))
			encodeMemarg(out, in.Align, in.MemID)
			out.Write(leb128.EncodeUint32(in.Offset))
		case wasmir.OpUnreachable, wasmir.OpNop, wasmir.OpReturn, wasmir.OpDrop, wasmir.OpI32Add:
			out.WriteByte(byte(in.Op))
		default:
			if in.Misc {
				out.WriteByte(0xfc)
				out.Write(leb128.EncodeUint32(uint32(in.MiscSub)))
				switch in.MiscSub {
				case wasmir.MiscMemoryCopy:
					out.Write(leb128.EncodeUint32(uint32(in.MemID2)))
					out.Write(leb128.EncodeUint32(uint32(in.MemID)))
				case wasmir.MiscDataDrop:
					out.Write(leb128.EncodeUint32(uint32(in.DataSegID)))
				case wasmir.MiscMemoryInit:
					out.Write(leb128.EncodeUint32(uint32(in.DataSegID)))
					out.Write(leb128.EncodeUint32(uint32(in.MemID)))
				case wasmir.MiscMemoryFill:
					out.Write(leb128.EncodeUint32(uint32(in.MemID)))
				}
				continue
			}
			if in.Atomic {
				out.WriteByte(0xfe)
				out.Write(leb128.EncodeUint32(uint32(in.AtomicSub)))
				out.Write(leb128.EncodeUint32(in.Align))
				out.Write(leb128.EncodeUint32(in.Offset))
				continue
			}
			return fmt.Errorf("wasmbin: cannot encode opcode %v", in.Op)
		}
	}
	return nil
}
