package extract

import (
	"bytes"
	"crypto/sha1"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// CLR metadata layout from ECMA-335 partition II.

// corHeaderSize is sizeof(IMAGE_COR20_HEADER); the metadata directory sits at 8.
const corHeaderSize = 72

const metadataSignature = 0x424a5342 // "BSJB"

var errCLRTruncated = errors.New("clr metadata truncated")

// readCLR describes a managed assembly by its metadata: the Assembly row is
// the declared name and every AssemblyRef row is a reference.
func readCLR(f *pe.File, dir pe.DataDirectory) (moduleInfo, error) {
	hdr := readRVA(f, dir.VirtualAddress, corHeaderSize)
	if len(hdr) < 16 {
		return moduleInfo{}, errCLRTruncated
	}
	mdRVA := binary.LittleEndian.Uint32(hdr[8:12])
	mdSize := binary.LittleEndian.Uint32(hdr[12:16])
	md := readRVA(f, mdRVA, int(mdSize))
	if mdSize == 0 || len(md) < int(mdSize) {
		return moduleInfo{}, errCLRTruncated
	}

	streams, err := metadataStreams(md)
	if err != nil {
		return moduleInfo{}, err
	}
	tablesData, ok := streams["#~"]
	if !ok {
		// Uncompressed tables share the layout we read.
		if tablesData, ok = streams["#-"]; !ok {
			return moduleInfo{}, errors.New("clr metadata has no table stream")
		}
	}
	ts, err := parseTableStream(tablesData)
	if err != nil {
		return moduleInfo{}, err
	}
	h := heaps{strings: streams["#Strings"], blobs: streams["#Blob"]}

	mod := moduleInfo{format: FormatPE}
	if ts.rows[tAssembly] > 0 {
		// HashAlgId, Version x4, Flags, PublicKey, Name, Culture
		row := ts.row(tAssembly, 0)
		mod.name = assemblyFullName(
			h.str(row[7]),
			[4]uint32{row[1], row[2], row[3], row[4]},
			h.str(row[8]),
			publicKeyToken(h.blob(row[6])),
		)
	}
	for i := range ts.rows[tAssemblyRef] {
		// Version x4, Flags, PublicKeyOrToken, Name, Culture, HashValue
		row := ts.row(tAssemblyRef, i)
		token := h.blob(row[5])
		if row[4]&afPublicKey != 0 {
			token = publicKeyToken(token)
		}
		mod.refs = append(mod.refs, assemblyFullName(
			h.str(row[6]),
			[4]uint32{row[0], row[1], row[2], row[3]},
			h.str(row[7]),
			token,
		))
	}
	return mod, nil
}

// afPublicKey marks an AssemblyRef that stores the full key, not its token.
const afPublicKey = 0x0001

// assemblyFullName renders "Name, Version=a.b.c.d, Culture=c, PublicKeyToken=t".
func assemblyFullName(name string, v [4]uint32, culture string, token []byte) string {
	if culture == "" {
		culture = "neutral"
	}
	tok := "null"
	if len(token) > 0 {
		tok = hex.EncodeToString(token)
	}
	return fmt.Sprintf("%s, Version=%d.%d.%d.%d, Culture=%s, PublicKeyToken=%s",
		name, v[0], v[1], v[2], v[3], culture, tok)
}

// publicKeyToken is the last eight bytes of the key's SHA-1, reversed.
func publicKeyToken(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	sum := sha1.Sum(key)
	tok := make([]byte, 8)
	for i := range tok {
		tok[i] = sum[len(sum)-1-i]
	}
	return tok
}

// metadataStreams maps stream names to their bytes inside the metadata root.
func metadataStreams(md []byte) (map[string][]byte, error) {
	le := binary.LittleEndian
	if len(md) < 16 || le.Uint32(md) != metadataSignature {
		return nil, errors.New("clr metadata signature not found")
	}
	verLen := uint64(le.Uint32(md[12:16]))
	off := 16 + (verLen+3)&^3
	if off+4 > uint64(len(md)) {
		return nil, errCLRTruncated
	}
	n := le.Uint16(md[off+2:])
	off += 4

	streams := make(map[string][]byte, n)
	for range n {
		if off+8 > uint64(len(md)) {
			return nil, errCLRTruncated
		}
		start, size := uint64(le.Uint32(md[off:])), uint64(le.Uint32(md[off+4:]))
		off += 8
		end := bytes.IndexByte(md[off:], 0)
		if end < 0 {
			return nil, errCLRTruncated
		}
		name := string(md[off : off+uint64(end)])
		off += (uint64(end) + 4) &^ 3
		if start+size > uint64(len(md)) {
			return nil, errCLRTruncated
		}
		streams[name] = md[start : start+size]
	}
	return streams, nil
}

// heaps resolves string and blob indexes of table rows.
type heaps struct {
	strings []byte
	blobs   []byte
}

func (h heaps) str(i uint32) string {
	if int64(i) >= int64(len(h.strings)) {
		return ""
	}
	s := h.strings[i:]
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s)
}

// blob decodes the compressed length prefix of the blob at i.
func (h heaps) blob(i uint32) []byte {
	if i == 0 || int64(i) >= int64(len(h.blobs)) {
		return nil
	}
	b := h.blobs[i:]
	var n, hdr int
	switch {
	case b[0]&0x80 == 0:
		n, hdr = int(b[0]), 1
	case b[0]&0xc0 == 0x80 && len(b) >= 2:
		n, hdr = int(b[0]&0x3f)<<8|int(b[1]), 2
	case b[0]&0xe0 == 0xc0 && len(b) >= 4:
		n, hdr = int(b[0]&0x1f)<<24|int(b[1])<<16|int(b[2])<<8|int(b[3]), 4
	default:
		return nil
	}
	if hdr+n > len(b) {
		return nil
	}
	return b[hdr : hdr+n]
}

// Metadata table numbers. Tables up to AssemblyRef are laid out in order, so
// every one of them needs a schema; later tables only matter for the width of
// coded indexes.
const (
	tModule = iota
	tTypeRef
	tTypeDef
	tFieldPtr
	tField
	tMethodPtr
	tMethodDef
	tParamPtr
	tParam
	tInterfaceImpl
	tMemberRef
	tConstant
	tCustomAttribute
	tFieldMarshal
	tDeclSecurity
	tClassLayout
	tFieldLayout
	tStandAloneSig
	tEventMap
	tEventPtr
	tEvent
	tPropertyMap
	tPropertyPtr
	tProperty
	tMethodSemantics
	tMethodImpl
	tModuleRef
	tTypeSpec
	tImplMap
	tFieldRVA
	tEncLog
	tEncMap
	tAssembly
	tAssemblyProcessor
	tAssemblyOS
	tAssemblyRef

	tFile                   = 0x26
	tExportedType           = 0x27
	tManifestResource       = 0x28
	tGenericParam           = 0x2a
	tMethodSpec             = 0x2b
	tGenericParamConstraint = 0x2c
)

const schemaTables = tAssemblyRef + 1

// column reports the byte width of one column for a given table stream.
type column func(*tableStream) int

func fixed(n int) column { return func(*tableStream) int { return n } }

func heapIndex(bit byte) column {
	return func(ts *tableStream) int {
		if ts.heapSizes&bit != 0 {
			return 4
		}
		return 2
	}
}

func index(table int) column {
	return func(ts *tableStream) int {
		if ts.rows[table] < 1<<16 {
			return 2
		}
		return 4
	}
}

func coded(tagBits uint, tables ...int) column {
	return func(ts *tableStream) int {
		for _, t := range tables {
			if ts.rows[t] >= 1<<(16-tagBits) {
				return 4
			}
		}
		return 2
	}
}

var (
	u16  = fixed(2)
	u32  = fixed(4)
	str  = heapIndex(0x01)
	guid = heapIndex(0x02)
	blob = heapIndex(0x04)

	typeDefOrRef    = coded(2, tTypeDef, tTypeRef, tTypeSpec)
	hasConstant     = coded(2, tField, tParam, tProperty)
	hasFieldMarshal = coded(1, tField, tParam)
	hasDeclSecurity = coded(2, tTypeDef, tMethodDef, tAssembly)
	memberRefParent = coded(3, tTypeDef, tTypeRef, tModuleRef, tMethodDef, tTypeSpec)
	hasSemantics    = coded(1, tEvent, tProperty)
	methodDefOrRef  = coded(1, tMethodDef, tMemberRef)
	memberForwarded = coded(1, tField, tMethodDef)
	resolutionScope = coded(2, tModule, tModuleRef, tAssemblyRef, tTypeRef)
	attributeType   = coded(3, tMethodDef, tMemberRef)

	hasCustomAttribute = coded(5,
		tMethodDef, tField, tTypeRef, tTypeDef, tParam, tInterfaceImpl, tMemberRef,
		tModule, tDeclSecurity, tProperty, tEvent, tStandAloneSig, tModuleRef,
		tTypeSpec, tAssembly, tAssemblyRef, tFile, tExportedType, tManifestResource,
		tGenericParam, tGenericParamConstraint, tMethodSpec)
)

var tableSchema = [schemaTables][]column{
	tModule:            {u16, str, guid, guid, guid},
	tTypeRef:           {resolutionScope, str, str},
	tTypeDef:           {u32, str, str, typeDefOrRef, index(tField), index(tMethodDef)},
	tFieldPtr:          {index(tField)},
	tField:             {u16, str, blob},
	tMethodPtr:         {index(tMethodDef)},
	tMethodDef:         {u32, u16, u16, str, blob, index(tParam)},
	tParamPtr:          {index(tParam)},
	tParam:             {u16, u16, str},
	tInterfaceImpl:     {index(tTypeDef), typeDefOrRef},
	tMemberRef:         {memberRefParent, str, blob},
	tConstant:          {u16, hasConstant, blob},
	tCustomAttribute:   {hasCustomAttribute, attributeType, blob},
	tFieldMarshal:      {hasFieldMarshal, blob},
	tDeclSecurity:      {u16, hasDeclSecurity, blob},
	tClassLayout:       {u16, u32, index(tTypeDef)},
	tFieldLayout:       {u32, index(tField)},
	tStandAloneSig:     {blob},
	tEventMap:          {index(tTypeDef), index(tEvent)},
	tEventPtr:          {index(tEvent)},
	tEvent:             {u16, str, typeDefOrRef},
	tPropertyMap:       {index(tTypeDef), index(tProperty)},
	tPropertyPtr:       {index(tProperty)},
	tProperty:          {u16, str, blob},
	tMethodSemantics:   {u16, index(tMethodDef), hasSemantics},
	tMethodImpl:        {index(tTypeDef), methodDefOrRef, methodDefOrRef},
	tModuleRef:         {str},
	tTypeSpec:          {blob},
	tImplMap:           {u16, memberForwarded, str, index(tModuleRef)},
	tFieldRVA:          {u32, index(tField)},
	tEncLog:            {u32, u32},
	tEncMap:            {u32},
	tAssembly:          {u32, u16, u16, u16, u16, u32, blob, str, str},
	tAssemblyProcessor: {u32},
	tAssemblyOS:        {u32, u32, u32},
	tAssemblyRef:       {u16, u16, u16, u16, u32, blob, str, str, blob},
}

// tableStream is a parsed "#~" stream, laid out up to the AssemblyRef table.
type tableStream struct {
	heapSizes byte
	rows      [64]uint32
	data      []byte

	start   [schemaTables]int
	widths  [schemaTables][]int
	rowSize [schemaTables]int
}

func parseTableStream(b []byte) (*tableStream, error) {
	le := binary.LittleEndian
	// Reserved, MajorVersion, MinorVersion, HeapSizes, Reserved, Valid, Sorted
	if len(b) < 24 {
		return nil, errCLRTruncated
	}
	ts := &tableStream{heapSizes: b[6]}
	valid := le.Uint64(b[8:16])
	off := 24
	for i := range ts.rows {
		if valid&(1<<i) == 0 {
			continue
		}
		if off+4 > len(b) {
			return nil, errCLRTruncated
		}
		ts.rows[i] = le.Uint32(b[off:])
		off += 4
	}
	if ts.heapSizes&0x40 != 0 {
		off += 4 // extra data
	}
	if off > len(b) {
		return nil, errCLRTruncated
	}
	ts.data = b[off:]
	return ts, ts.layout()
}

// layout computes row widths and table offsets, checking every table up to
// AssemblyRef fits in the stream.
func (ts *tableStream) layout() error {
	off := 0
	for id, cols := range tableSchema {
		widths := make([]int, len(cols))
		size := 0
		for c, col := range cols {
			widths[c] = col(ts)
			size += widths[c]
		}
		ts.widths[id], ts.rowSize[id], ts.start[id] = widths, size, off
		if uint64(ts.rows[id])*uint64(size) > uint64(len(ts.data)-off) {
			return fmt.Errorf("%w: table %#x", errCLRTruncated, id)
		}
		off += int(ts.rows[id]) * size
	}
	return nil
}

// row returns the column values of row i of table id.
func (ts *tableStream) row(id int, i uint32) []uint32 {
	b := ts.data[ts.start[id]+int(i)*ts.rowSize[id]:]
	vals := make([]uint32, len(ts.widths[id]))
	for c, w := range ts.widths[id] {
		if w == 2 {
			vals[c] = uint32(binary.LittleEndian.Uint16(b))
		} else {
			vals[c] = binary.LittleEndian.Uint32(b)
		}
		b = b[w:]
	}
	return vals
}
