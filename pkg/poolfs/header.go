package poolfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Digest is the two-word checksum the engine keeps over a slot's path and flags.
type Digest [2]uint32

// ComputeDigest hashes the path+flags corpus of a slot header.
func ComputeDigest(corpus []byte) Digest {
	h1 := uint32(0xDEADBEEF)
	h2 := uint32(0x41C6CE57)
	for _, v := range corpus {
		h1 = 31*h1 + uint32(v)*307
		h2 = 31*h2 + uint32(v)*307
	}
	return Digest{h1, h2}
}

// Header is the decoded metadata region of a slot file.
type Header struct {
	Path   string
	Flags  uint32
	Digest Digest
}

// Assigned reports whether the slot currently backs a virtual file.
func (h Header) Assigned() bool { return h.Path != "" }

// corpus lays out path and flags exactly as they are hashed and stored.
func corpus(virtualPath string, flags uint32) ([]byte, error) {
	if len(virtualPath) >= HeaderMaxPathSize {
		return nil, fmt.Errorf("virtual path too long: %d bytes", len(virtualPath))
	}
	buf := make([]byte, HeaderCorpusSize)
	copy(buf, virtualPath)
	binary.BigEndian.PutUint32(buf[HeaderOffsetFlags:], flags)
	return buf, nil
}

// EncodeHeader returns the path, flags and digest bytes written at offset 0.
func EncodeHeader(virtualPath string, flags uint32) ([]byte, error) {
	body, err := corpus(virtualPath, flags)
	if err != nil {
		return nil, err
	}
	d := ComputeDigest(body)

	buf := make([]byte, HeaderCorpusSize+HeaderDigestSize)
	copy(buf, body)
	binary.LittleEndian.PutUint32(buf[HeaderOffsetDigest:], d[0])
	binary.LittleEndian.PutUint32(buf[HeaderOffsetDigest+4:], d[1])
	return buf, nil
}

// DecodeHeader parses the first HeaderCorpusSize+HeaderDigestSize bytes of a
// slot file. valid is false when the stored digest does not match the one
// recomputed from path and flags; such a slot must be treated as unassigned.
func DecodeHeader(b []byte) (h Header, valid bool, err error) {
	if len(b) < HeaderCorpusSize+HeaderDigestSize {
		return Header{}, false, fmt.Errorf("slot header truncated: %d bytes", len(b))
	}

	pathBytes := b[:HeaderMaxPathSize]
	if i := bytes.IndexByte(pathBytes, 0); i >= 0 {
		pathBytes = pathBytes[:i]
	}
	h.Path = string(pathBytes)
	h.Flags = binary.BigEndian.Uint32(b[HeaderOffsetFlags:])
	h.Digest = Digest{
		binary.LittleEndian.Uint32(b[HeaderOffsetDigest:]),
		binary.LittleEndian.Uint32(b[HeaderOffsetDigest+4:]),
	}

	valid = ComputeDigest(b[:HeaderCorpusSize]) == h.Digest
	return h, valid, nil
}
