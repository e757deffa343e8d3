package vecindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// The durable form of an index is two parts: a binary vector file (header
// plus raw float32 little-endian vectors) and a JSON sidecar holding the
// texts and metadata. Both parts must be present and mutually consistent.

type metaFile struct {
	Dimensions int         `json:"dimensions"`
	Count      int         `json:"count"`
	Entries    []metaEntry `json:"entries"`
}

type metaEntry struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

// Encode serializes the index into its two-part durable representation:
// the binary vector structure and the metadata sidecar.
func (x *Index) Encode() (vec []byte, meta []byte, err error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return nil, nil, fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(x.entries))); err != nil {
		return nil, nil, fmt.Errorf("write count: %w", err)
	}
	for _, e := range x.entries {
		buf.Write(float32SliceToBytes(e.Vector))
	}

	mf := metaFile{
		Dimensions: x.dimensions,
		Count:      len(x.entries),
		Entries:    make([]metaEntry, len(x.entries)),
	}
	for i, e := range x.entries {
		mf.Entries[i] = metaEntry{Text: e.Text, DocumentID: e.Meta.DocumentID, Page: e.Meta.Page}
	}
	meta, err = json.Marshal(&mf)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return buf.Bytes(), meta, nil
}

// Decode reconstructs an index from its two parts. Returns a *CorruptError
// when the parts are malformed or inconsistent with each other (vector count
// or dimension mismatch against the metadata sidecar).
func Decode(vec, meta []byte) (*Index, error) {
	r := bytes.NewReader(vec)
	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, &CorruptError{Reason: fmt.Sprintf("read dimensions: %v", err)}
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, &CorruptError{Reason: fmt.Sprintf("read count: %v", err)}
	}
	want := int64(count) * int64(dim) * 4
	if int64(r.Len()) != want {
		return nil, &CorruptError{Reason: fmt.Sprintf("vector data is %d bytes, expected %d", r.Len(), want)}
	}

	var mf metaFile
	if err := json.Unmarshal(meta, &mf); err != nil {
		return nil, &CorruptError{Reason: fmt.Sprintf("parse metadata sidecar: %v", err)}
	}
	if mf.Count != int(count) || len(mf.Entries) != int(count) {
		return nil, &CorruptError{Reason: fmt.Sprintf("vector count %d does not match metadata count %d (%d entries)", count, mf.Count, len(mf.Entries))}
	}
	if mf.Dimensions != int(dim) {
		return nil, &CorruptError{Reason: fmt.Sprintf("vector dimension %d does not match metadata dimension %d", dim, mf.Dimensions)}
	}

	idx := &Index{dimensions: int(dim)}
	vecBuf := make([]byte, int(dim)*4)
	for i := 0; i < int(count); i++ {
		if _, err := r.Read(vecBuf); err != nil {
			return nil, &CorruptError{Reason: fmt.Sprintf("read vector %d: %v", i, err)}
		}
		me := mf.Entries[i]
		idx.entries = append(idx.entries, Entry{
			Vector: bytesToFloat32Slice(vecBuf),
			Text:   me.Text,
			Meta:   Metadata{DocumentID: me.DocumentID, Page: me.Page},
		})
	}
	return idx, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
