// Package filestream streams a vnode's committed data files to a catching-up
// peer, one file at a time, with a per-file synchronization acknowledgment.
package filestream

import (
	"fmt"
	"os"

	"github.com/vnodekit/retrievesync/internal/logger"
	"github.com/vnodekit/retrievesync/monitoring"
	"github.com/vnodekit/retrievesync/mutation"
	"github.com/vnodekit/retrievesync/peer"
	"github.com/vnodekit/retrievesync/vnode"
	"github.com/vnodekit/retrievesync/wire"
)

// Streamer offers the leader's committed data files to one peer.
type Streamer struct {
	oracle  vnode.VersionOracle
	watcher *mutation.Watcher
	open    func(name string) (*os.File, error)
}

// New creates a Streamer against the given oracle. open defaults to
// os.Open; WithOpenFunc substitutes another opener.
func New(oracle vnode.VersionOracle, watcher *mutation.Watcher) *Streamer {
	return &Streamer{oracle: oracle, watcher: watcher, open: os.Open}
}

// WithOpenFunc overrides how the streamer opens a file for reading, for
// tests that want to intercept opens without a real vnode root on disk.
func (s *Streamer) WithOpenFunc(open func(name string) (*os.File, error)) *Streamer {
	s.open = open
	return s
}

// Run drives the file phase for p to completion: offer every committed file
// up to the snapshot taken at entry, honor per-file ack/skip, and stop at
// the first observed mutation or I/O failure so the caller can restart the
// whole retrieve.
func (s *Streamer) Run(p *peer.Session) error {
	p.SetLastFver(mustFver(s.oracle, p.VgID))

	var cursor uint32
	for {
		info, err := s.oracle.GetFileInfo(p.VgID, cursor)
		if err != nil {
			return fmt.Errorf("filestream: getFileInfo: %w", err)
		}

		if err := writeFileInfo(p, &info); err != nil {
			return err
		}

		if info.IsSentinel() {
			return nil
		}

		ack, err := readFileAck(p)
		if err != nil {
			return err
		}

		p.SetSversion(info.FVersion)

		if ack.Sync == 0 {
			monitoring.RecordFileShipped(p.VgID, false)
			cursor++
			continue
		}

		if err := s.sendFile(p, &info); err != nil {
			return err
		}
		monitoring.RecordFileShipped(p.VgID, true)
		monitoring.RecordBytesShipped(p.VgID, "file", info.Size)

		cursor++

		if s.watcher.FilesModified(p) {
			logger.Log.Warn("filestream: file set changed mid-run for peer {peerId}", p.PeerID)
			return fmt.Errorf("filestream: file set modified during streaming")
		}
	}
}

func (s *Streamer) sendFile(p *peer.Session, info *wire.FileInfo) error {
	f, err := s.open(info.NameString())
	if err != nil {
		return fmt.Errorf("filestream: open %s: %w", info.NameString(), err)
	}
	defer f.Close()

	// Ship exactly the size observed when the file was listed, even if the
	// file has since grown, so the peer's framing matches what was announced.
	if err := p.Conn().SendFileRange(f, info.Size); err != nil {
		return fmt.Errorf("filestream: send %s: %w", info.NameString(), err)
	}
	return nil
}

func writeFileInfo(p *peer.Session, info *wire.FileInfo) error {
	data, err := info.Marshal()
	if err != nil {
		return fmt.Errorf("filestream: marshal FileInfo: %w", err)
	}
	if err := p.Conn().WriteExact(data); err != nil {
		return fmt.Errorf("filestream: write FileInfo: %w", err)
	}
	return nil
}

func readFileAck(p *peer.Session) (*wire.FileAck, error) {
	buf := make([]byte, (&wire.FileAck{}).Size())
	if err := p.Conn().ReadExact(buf); err != nil {
		return nil, fmt.Errorf("filestream: read FileAck: %w", err)
	}
	return wire.UnmarshalFileAck(buf)
}

func mustFver(oracle vnode.VersionOracle, vgID string) uint64 {
	fver, _, err := oracle.GetVersion(vgID)
	if err != nil {
		return 0
	}
	return fver
}
