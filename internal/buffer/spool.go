package buffer

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/edgebridge/otgw/internal/errkind"
	"github.com/edgebridge/otgw/internal/record"
)

// spoolEntry is one in-order index slot for an on-disk spool file.
type spoolEntry struct {
	path      string
	bytes     int64
	ingressUs int64
	seq       uint64
}

// spool is the encrypted disk overflow tier (spec §4.1). One record per
// file, named spool_<ingress_us>_<seq>.bin; Fsync is intentionally not
// used (spec §7 durability envelope accepts loss on power failure).
type spool struct {
	dir        string
	dlqDir     string
	aead       cipher.AEAD
	maxBytes   int64
	usedBytes  int64
	index      []spoolEntry
	seqCounter uint64
	dlqSeq     uint64
}

func newSpool(dir string, maxBytes int64, key []byte) (*spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("buffer: create spool dir: %w", err)
	}
	dlqDir := filepath.Join(dir, "dlq")
	if err := os.MkdirAll(dlqDir, 0o700); err != nil {
		return nil, fmt.Errorf("buffer: create dlq dir: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("buffer: init aead: %w", err)
	}

	s := &spool{dir: dir, dlqDir: dlqDir, aead: aead, maxBytes: maxBytes}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// reindex rebuilds the in-order index from the spool directory's file
// names on startup, so a restart resumes spool playback in order.
func (s *spool) reindex() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("buffer: reindex spool: %w", err)
	}

	var found []spoolEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var ingressUs int64
		var seq uint64
		if _, err := fmt.Sscanf(e.Name(), "spool_%d_%d.bin", &ingressUs, &seq); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, spoolEntry{
			path:      filepath.Join(s.dir, e.Name()),
			bytes:     info.Size(),
			ingressUs: ingressUs,
			seq:       seq,
		})
		if seq >= s.seqCounter {
			s.seqCounter = seq + 1
		}
		s.usedBytes += info.Size()
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].ingressUs != found[j].ingressUs {
			return found[i].ingressUs < found[j].ingressUs
		}
		return found[i].seq < found[j].seq
	})
	s.index = found
	return nil
}

// hasRoom reports whether another record of approximately size bytes
// fits within maxBytes.
func (s *spool) hasRoom(size int64) bool {
	return s.usedBytes+size <= s.maxBytes
}

func (s *spool) len() int {
	return len(s.index)
}

func (s *spool) bytesUsed() int64 {
	return s.usedBytes
}

func (s *spool) dlqCount() int {
	entries, err := os.ReadDir(s.dlqDir)
	if err != nil {
		return 0
	}
	return len(entries)
}

// write serializes, AEAD-encrypts, and persists one record as a new
// spool file, appending it to the in-order index.
func (s *spool) write(r record.Record, ingressUs int64) error {
	plain, err := record.Serialize(r)
	if err != nil {
		return errkind.Wrap(errkind.SpoolCorrupt, "serialize for spool", err)
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errkind.Wrap(errkind.SpoolCorrupt, "generate spool nonce", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, plain, nil)

	seq := s.seqCounter
	s.seqCounter++
	name := fmt.Sprintf("spool_%d_%d.bin", ingressUs, seq)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return errkind.Wrap(errkind.SpoolCorrupt, "write spool file", err)
	}

	s.index = append(s.index, spoolEntry{
		path:      path,
		bytes:     int64(len(ciphertext)),
		ingressUs: ingressUs,
		seq:       seq,
	})
	s.usedBytes += int64(len(ciphertext))
	return nil
}

// readHead reads, decrypts, and deserializes the oldest spool file,
// then deletes it and pops the index. On corruption the file is moved
// to the DLQ and an errkind.SpoolCorrupt error is returned so the
// caller can retry the next dequeue (spec §4.1 dequeue algorithm).
func (s *spool) readHead() (record.Record, error) {
	if len(s.index) == 0 {
		return record.Record{}, errNoHead
	}
	head := s.index[0]

	ciphertext, err := os.ReadFile(head.path)
	if err != nil {
		s.popHead(head)
		return record.Record{}, errkind.Wrap(errkind.SpoolCorrupt, "read spool file", err)
	}

	r, decErr := s.decrypt(ciphertext)
	if decErr != nil {
		s.quarantine(head, ciphertext, decErr)
		_ = os.Remove(head.path)
		s.popHead(head)
		return record.Record{}, errkind.Wrap(errkind.SpoolCorrupt, "decode spool file", decErr)
	}

	_ = os.Remove(head.path)
	s.popHead(head)
	return r, nil
}

func (s *spool) decrypt(ciphertext []byte) (record.Record, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return record.Record{}, fmt.Errorf("spool ciphertext shorter than nonce")
	}
	nonce, box := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return record.Record{}, err
	}
	return record.Deserialize(plain)
}

func (s *spool) popHead(head spoolEntry) {
	s.index = s.index[1:]
	s.usedBytes -= head.bytes
	if s.usedBytes < 0 {
		s.usedBytes = 0
	}
}

// dlqEntry is the on-disk shape of a quarantined record (spec §6:
// dlq_<ingress_us>_<n>.json).
type dlqEntry struct {
	IngressTimeUs int64  `json:"ingress_time_us"`
	Reason        string `json:"reason"`
	RawCiphertext []byte `json:"raw_ciphertext,omitempty"`
}

func (s *spool) quarantine(head spoolEntry, raw []byte, cause error) {
	entry := dlqEntry{
		IngressTimeUs: head.ingressUs,
		Reason:        fmt.Sprintf("spool_corrupt: %v", cause),
		RawCiphertext: raw,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	n := s.dlqSeq
	s.dlqSeq++
	name := fmt.Sprintf("dlq_%d_%d.json", head.ingressUs, n)
	_ = os.WriteFile(filepath.Join(s.dlqDir, name), data, 0o600)
}

// writeDLQRecord quarantines a fully-formed record directly, used by
// the buffer's explicit send_to_dlq operation and by enqueue when spool
// serialization itself fails.
func (s *spool) writeDLQRecord(r record.Record, reason string) error {
	data, err := record.Serialize(r)
	if err != nil {
		data = []byte(fmt.Sprintf("serialize failed: %v", err))
	}
	entry := struct {
		IngressTimeUs int64  `json:"ingress_time_us"`
		Reason        string `json:"reason"`
		Record        string `json:"record"`
	}{
		IngressTimeUs: time.Now().UnixMicro(),
		Reason:        reason,
		Record:        string(data),
	}
	out, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	n := s.dlqSeq
	s.dlqSeq++
	name := fmt.Sprintf("dlq_%d_%d.json", entry.IngressTimeUs, n)
	return os.WriteFile(filepath.Join(s.dlqDir, name), out, 0o600)
}

var errNoHead = fmt.Errorf("buffer: spool index empty")
