// Package wire defines the fixed, little-endian wire layouts exchanged
// between a leader's retrieve worker and a follower peer over a dedicated
// TCP connection, and the FramedConn that moves them.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FQDNLen is the fixed width of the leader FQDN field in FirstPkt,
	// matching TSDB_FQDN_LEN in the original product.
	FQDNLen = 128
	// FilenameLen is the fixed width of the name field in FileInfo,
	// matching TSDB_FILENAME_LEN.
	FilenameLen = 256

	// MsgTypeSyncData identifies the greeting as a data-sync session.
	MsgTypeSyncData uint8 = 1
)

// FirstPkt is the leader's greeting, sent once at the start of a retrieve run.
type FirstPkt struct {
	MsgType uint8
	VgID    uint32
	FQDN    [FQDNLen]byte
	Port    uint16
}

// Marshal writes FirstPkt in fixed little-endian layout.
func (p *FirstPkt) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, p.MsgType); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.VgID); err != nil {
		return nil, err
	}
	if _, err := buf.Write(p.FQDN[:]); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, p.Port); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFirstPkt reads a FirstPkt from its fixed layout.
func UnmarshalFirstPkt(data []byte) (*FirstPkt, error) {
	if len(data) < 1+4+FQDNLen+2 {
		return nil, fmt.Errorf("wire: short FirstPkt: %d bytes", len(data))
	}
	p := &FirstPkt{}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &p.MsgType); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &p.VgID); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, p.FQDN[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Port); err != nil {
		return nil, err
	}
	return p, nil
}

// Size is the wire size of a FirstPkt.
func (p *FirstPkt) Size() int { return 1 + 4 + FQDNLen + 2 }

// FirstPktRsp is the peer's opaque acknowledgment of the greeting. Its
// contents are unused by the core; only its fixed size matters for framing.
type FirstPktRsp struct {
	Code uint32
}

// Size is the wire size of a FirstPktRsp.
func (r *FirstPktRsp) Size() int { return 4 }

// Marshal writes FirstPktRsp in fixed little-endian layout.
func (r *FirstPktRsp) Marshal() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.Code)
	return buf, nil
}

// UnmarshalFirstPktRsp reads a FirstPktRsp from its fixed layout.
func UnmarshalFirstPktRsp(data []byte) (*FirstPktRsp, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("wire: short FirstPktRsp: %d bytes", len(data))
	}
	return &FirstPktRsp{Code: binary.LittleEndian.Uint32(data)}, nil
}

// FileInfo describes one committed data file offered to the peer. An empty
// Name or zero Magic is the end-of-files sentinel.
type FileInfo struct {
	Name     [FilenameLen]byte
	Index    uint32
	Size     int64
	FVersion uint64
	Magic    uint32
}

// Size is the wire size of a FileInfo record.
func (f *FileInfo) Size() int { return FilenameLen + 4 + 8 + 8 + 4 }

// IsSentinel reports whether this FileInfo marks end-of-files.
func (f *FileInfo) IsSentinel() bool {
	return f.Magic == 0 || f.Name[0] == 0
}

// SetName copies name into the fixed-width Name field, truncating if the
// relative path is longer than FilenameLen-1 (the wire format leaves no
// room for truncation recovery; callers are expected to keep vnode-relative
// paths short).
func (f *FileInfo) SetName(name string) {
	var buf [FilenameLen]byte
	n := copy(buf[:FilenameLen-1], name)
	_ = n
	f.Name = buf
}

// NameString returns the NUL-terminated Name field as a Go string.
func (f *FileInfo) NameString() string {
	n := bytes.IndexByte(f.Name[:], 0)
	if n < 0 {
		n = len(f.Name)
	}
	return string(f.Name[:n])
}

// Marshal writes FileInfo in fixed little-endian layout.
func (f *FileInfo) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.Write(f.Name[:]); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, f.Index); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, f.Size); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, f.FVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, f.Magic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalFileInfo reads a FileInfo from its fixed layout.
func UnmarshalFileInfo(data []byte) (*FileInfo, error) {
	f := &FileInfo{}
	if len(data) < f.Size() {
		return nil, fmt.Errorf("wire: short FileInfo: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	if _, err := io.ReadFull(r, f.Name[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Index); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Size); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.FVersion); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Magic); err != nil {
		return nil, err
	}
	return f, nil
}

// SentinelFileInfo returns the end-of-files marker written once FileStreamer
// has nothing left to offer.
func SentinelFileInfo() *FileInfo {
	return &FileInfo{}
}

// FileAck is the peer's per-file response: Sync==0 means "I already have
// this file, skip it"; Sync==1 requests the raw bytes.
type FileAck struct {
	Sync uint8
}

// Size is the wire size of a FileAck record.
func (a *FileAck) Size() int { return 1 }

// Marshal writes FileAck in fixed little-endian layout.
func (a *FileAck) Marshal() ([]byte, error) {
	return []byte{a.Sync}, nil
}

// UnmarshalFileAck reads a FileAck from its fixed layout.
func UnmarshalFileAck(data []byte) (*FileAck, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: short FileAck: %d bytes", len(data))
	}
	return &FileAck{Sync: data[0]}, nil
}

// WalHead prefixes every WAL record shipped during live-tail streaming. A
// zeroed WalHead (Version==0, Len==0) is the end-of-stream sentinel.
type WalHead struct {
	Version uint64
	Len     uint32
}

// Size is the wire size of a WalHead, excluding the body.
func (h *WalHead) Size() int { return 8 + 4 }

// IsSentinel reports whether this WalHead marks end-of-stream.
func (h *WalHead) IsSentinel() bool {
	return h.Version == 0 && h.Len == 0
}

// Marshal writes WalHead in fixed little-endian layout.
func (h *WalHead) Marshal() ([]byte, error) {
	buf := make([]byte, h.Size())
	binary.LittleEndian.PutUint64(buf[0:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Len)
	return buf, nil
}

// UnmarshalWalHead reads a WalHead from its fixed layout.
func UnmarshalWalHead(data []byte) (*WalHead, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("wire: short WalHead: %d bytes", len(data))
	}
	return &WalHead{
		Version: binary.LittleEndian.Uint64(data[0:8]),
		Len:     binary.LittleEndian.Uint32(data[8:12]),
	}, nil
}

// SentinelWalHead returns the zeroed end-of-stream marker.
func SentinelWalHead() *WalHead {
	return &WalHead{}
}
