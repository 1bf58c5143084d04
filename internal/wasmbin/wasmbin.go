// Package wasmbin is the module loader/writer: it parses a Wasm binary into
// an *wasmir.Module and serializes one back out, preserving custom sections
// (and, when requested, DWARF debug sections) across the round trip — the
// "Module loader/writer" non-core collaborator named in spec §4.11.
//
// It intentionally supports only the subset of the Wasm binary format this
// pipeline's passes read or emit (MVP core sections, multi-memory, and the
// bulk-memory/threads instructions the passes themselves introduce or
// remove); a section id or instruction opcode outside that subset makes
// Decode return an error.
package wasmbin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/wasip1vfs/linker/internal/leb128"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

const magic = "\x00asm"

var version = [4]byte{1, 0, 0, 0}

type sectionID byte

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
	secDataCount
)

// Load reads and decodes a Wasm binary from path. dwarf controls whether
// .debug_* custom sections are retained (spec §6 --dwarf, default false:
// "preserve debug info").
func Load(path string, dwarf bool) (*wasmir.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wasmbin: open %s", path)
	}
	defer f.Close()
	return Decode(f, dwarf)
}

// Save serializes m and writes it to path, truncating any existing file.
func Save(m *wasmir.Module, path string) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "wasmbin: write %s", path)
	}
	return nil
}

// Decode parses a complete Wasm binary module from r. When dwarf is false,
// .debug_* custom sections are dropped rather than carried into
// m.DWARFSections, so a pipeline run without --dwarf never ships debug info
// it merely round-tripped (spec §6, default false).
func Decode(r io.Reader, dwarf bool) (*wasmir.Module, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "wasmbin: read")
	}
	if len(buf) < 8 || string(buf[:4]) != magic {
		return nil, errors.New("wasmbin: not a wasm binary (bad magic)")
	}
	d := &decoder{buf: buf[8:]}
	m := wasmir.New()

	var funcTypeIdx []wasmir.TypeID // function-section: local func -> type
	for d.remaining() > 0 {
		id := sectionID(d.readByte())
		size, err := d.readU32()
		if err != nil {
			return nil, err
		}
		body := d.takeBytes(int(size))
		sd := &decoder{buf: body}
		switch id {
		case secCustom:
			name, err := sd.readName()
			if err != nil {
				return nil, err
			}
			data := append([]byte(nil), sd.buf[sd.pos:]...)
			cs := wasmir.CustomSection{Name: name, Data: data}
			if len(name) >= 7 && name[:7] == ".debug_" {
				if dwarf {
					m.DWARFSections = append(m.DWARFSections, cs)
				}
			} else if name == "producers" {
				m.Producers = decodeProducers(data)
			} else {
				m.Customs = append(m.Customs, cs)
			}
		case secType:
			if err := decodeTypeSection(sd, m); err != nil {
				return nil, err
			}
		case secImport:
			if err := decodeImportSection(sd, m); err != nil {
				return nil, err
			}
		case secFunction:
			n, err := sd.readU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				tid, err := sd.readU32()
				if err != nil {
					return nil, err
				}
				funcTypeIdx = append(funcTypeIdx, wasmir.TypeID(tid))
			}
		case secTable:
			if err := decodeTableSection(sd, m); err != nil {
				return nil, err
			}
		case secMemory:
			if err := decodeMemorySection(sd, m); err != nil {
				return nil, err
			}
		case secGlobal:
			if err := decodeGlobalSection(sd, m); err != nil {
				return nil, err
			}
		case secExport:
			if err := decodeExportSection(sd, m); err != nil {
				return nil, err
			}
		case secStart:
			fid, err := sd.readU32()
			if err != nil {
				return nil, err
			}
			m.HasStartFunc = true
			m.StartFunc = wasmir.FuncID(fid)
		case secElement:
			if err := decodeElementSection(sd, m); err != nil {
				return nil, err
			}
		case secCode:
			if err := decodeCodeSection(sd, m, funcTypeIdx); err != nil {
				return nil, err
			}
		case secData:
			if err := decodeDataSection(sd, m); err != nil {
				return nil, err
			}
		case secDataCount:
			// informational only; the pipeline recomputes it on encode.
		default:
			return nil, fmt.Errorf("wasmbin: unknown section id %d", id)
		}
	}
	return m, nil
}

// Encode serializes m into a complete Wasm binary.
func Encode(m *wasmir.Module) ([]byte, error) {
	var out bytes.Buffer
	out.WriteString(magic)
	out.Write(version[:])

	writeSection(&out, secType, encodeTypeSection(m))
	writeSection(&out, secImport, encodeImportSection(m))
	writeSection(&out, secFunction, encodeFunctionSection(m))
	writeSection(&out, secTable, encodeTableSection(m))
	writeSection(&out, secMemory, encodeMemorySection(m))
	writeSection(&out, secGlobal, encodeGlobalSection(m))
	writeSection(&out, secExport, encodeExportSection(m))
	if m.HasStartFunc {
		writeSection(&out, secStart, leb128.EncodeUint32(uint32(m.StartFunc)))
	}
	writeSection(&out, secElement, encodeElementSection(m))
	if code, err := encodeCodeSection(m); err != nil {
		return nil, err
	} else {
		writeSection(&out, secCode, code)
	}
	writeSection(&out, secData, encodeDataSection(m))

	if m.Producers != nil {
		writeCustomSection(&out, "producers", encodeProducers(m.Producers))
	}
	for _, c := range m.Customs {
		writeCustomSection(&out, c.Name, c.Data)
	}
	for _, c := range m.DWARFSections {
		writeCustomSection(&out, c.Name, c.Data)
	}
	return out.Bytes(), nil
}

func writeSection(out *bytes.Buffer, id sectionID, body []byte) {
	if len(body) == 0 && id != secType {
		return
	}
	out.WriteByte(byte(id))
	out.Write(leb128.EncodeUint32(uint32(len(body))))
	out.Write(body)
}

func writeCustomSection(out *bytes.Buffer, name string, data []byte) {
	var body bytes.Buffer
	writeName(&body, name)
	body.Write(data)
	out.WriteByte(byte(secCustom))
	out.Write(leb128.EncodeUint32(uint32(body.Len())))
	out.Write(body.Bytes())
}

// decoder is a forward-only cursor over a section's body.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readByte() byte {
	b := d.buf[d.pos]
	d.pos++
	return b
}

func (d *decoder) takeBytes(n int) []byte {
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *decoder) readU32() (uint32, error) {
	v, n, err := leb128.LoadUint32(d.buf[d.pos:])
	if err != nil {
		return 0, errors.Wrap(err, "wasmbin: decode u32")
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readI32() (int32, error) {
	v, n, err := leb128.LoadInt32(d.buf[d.pos:])
	if err != nil {
		return 0, errors.Wrap(err, "wasmbin: decode i32")
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readI64() (int64, error) {
	v, n, err := leb128.LoadInt64(d.buf[d.pos:])
	if err != nil {
		return 0, errors.Wrap(err, "wasmbin: decode i64")
	}
	d.pos += int(n)
	return v, nil
}

func (d *decoder) readF32() (float32, error) {
	if d.remaining() < 4 {
		return 0, errors.New("wasmbin: truncated f32")
	}
	bits := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return math.Float32frombits(bits), nil
}

func (d *decoder) readF64() (float64, error) {
	if d.remaining() < 8 {
		return 0, errors.New("wasmbin: truncated f64")
	}
	bits := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return math.Float64frombits(bits), nil
}

func (d *decoder) readName() (string, error) {
	n, err := d.readU32()
	if err != nil {
		return "", err
	}
	if d.remaining() < int(n) {
		return "", errors.New("wasmbin: truncated name")
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func writeName(out *bytes.Buffer, s string) {
	out.Write(leb128.EncodeUint32(uint32(len(s))))
	out.WriteString(s)
}
