// Package keystore persists named byte blobs and serialized keys
// across three durability tiers: Internal flash, External flash, and
// Volatile RAM. The tiering is about durability class, not mount
// point — callers pick a Location explicitly for store_key and the
// loader always searches Volatile, then Internal, then External.
package keystore

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Location names a durability tier.
type Location int

const (
	Internal Location = iota
	External
	Volatile
)

func (l Location) String() string {
	switch l {
	case Internal:
		return "internal"
	case External:
		return "external"
	case Volatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// KeyType distinguishes the on-disk path prefix used for a handle; it
// must be consistent across a handle's load/store calls.
type KeyType int

const (
	Secret KeyType = iota
	Public
)

func (t KeyType) prefix() string {
	if t == Public {
		return "pub"
	}
	return "sec"
}

var (
	ErrNotFound      = errors.New("keystore: not found")
	ErrWrongKeyKind  = errors.New("keystore: wrong key kind")
	ErrEscapesPrefix = errors.New("keystore: path escapes client root")
)

// Store is the tiered, namespaced file store. Each Location is backed
// by its own afero.Fs; Volatile is always an in-memory filesystem so
// it is reliably wiped across power cycles (process restarts in this
// simulator).
type Store struct {
	fs [3]afero.Fs
}

// New constructs a Store from the three backing filesystems, in
// Location order (Internal, External, Volatile).
func New(internal, external, volatile afero.Fs) *Store {
	return &Store{fs: [3]afero.Fs{internal, external, volatile}}
}

func (s *Store) at(loc Location) afero.Fs { return s.fs[loc] }

// cleanPath joins dir-safe segments and rejects paths that climb above
// the tier's root, mirroring the "escaping this prefix is forbidden"
// invariant on Client ID paths.
func cleanPath(elems ...string) (string, error) {
	p := path.Clean(path.Join(elems...))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrEscapesPrefix
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/"), nil
}

// Read returns the bytes at path within the given Location.
func (s *Store) Read(loc Location, p string) ([]byte, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(s.at(loc), clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Write stores bytes at path within the given Location, creating
// parent directories as needed.
func (s *Store) Write(loc Location, p string, data []byte) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	fsys := s.at(loc)
	if dir := path.Dir(clean); dir != "." && dir != "/" {
		if err := fsys.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return afero.WriteFile(fsys, clean, data, 0o600)
}

// Delete removes path within the given Location and reports whether
// it existed.
func (s *Store) Delete(loc Location, p string) (bool, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	fsys := s.at(loc)
	if _, statErr := fsys.Stat(clean); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return false, nil
		}
		return false, statErr
	}
	if err := fsys.Remove(clean); err != nil {
		return false, err
	}
	return true, nil
}

// ReadDirFirst lists directory entries in path within the given
// Location, sorted by name, starting at the first entry whose name is
// >= notBefore (empty string means "from the start"). It returns that
// one entry's name, which is the cursor the caller passes to
// ReadDirNext, and whether more entries follow it; an empty name means
// there is no entry to return.
func (s *Store) ReadDirFirst(loc Location, dir, notBefore string) (name string, hasMore bool, err error) {
	return s.readDirAt(loc, dir, notBefore, false)
}

// ReadDirNext continues an iteration started by ReadDirFirst from the
// cursor returned previously.
func (s *Store) ReadDirNext(loc Location, dir, cursor string) (name string, hasMore bool, err error) {
	return s.readDirAt(loc, dir, cursor, true)
}

func (s *Store) readDirAt(loc Location, dir, from string, after bool) (string, bool, error) {
	clean, err := cleanPath(dir)
	if err != nil {
		return "", false, err
	}
	entries, err := afero.ReadDir(s.at(loc), clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	idx := sort.SearchStrings(names, from)
	if after {
		// ReadDirNext passes the name already consumed; resume
		// strictly after it.
		if idx < len(names) && names[idx] == from {
			idx++
		}
	}
	if idx >= len(names) {
		return "", false, nil
	}
	return names[idx], idx+1 < len(names), nil
}

// LocateFile searches dirHint within the given Location for filename
// and returns its full path.
func (s *Store) LocateFile(loc Location, dirHint, filename string) (string, error) {
	clean, err := cleanPath(dirHint)
	if err != nil {
		return "", err
	}
	var found string
	walkErr := afero.Walk(s.at(loc), clean, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort search, skip unreadable entries
		}
		if !info.IsDir() && info.Name() == filename {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return "", walkErr
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

// --- key-specific layer -----------------------------------------------

// Handle is a 16-byte opaque key identifier. Handles are never
// interpreted outside the cryptoservice.
type Handle [16]byte

// IsWellKnown reports whether h is a reserved well-known handle (all
// bytes but the first are zero).
func (h Handle) IsWellKnown() bool {
	for _, b := range h[1:] {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h Handle) hex() string { return hex.EncodeToString(h[:]) }

// WellKnown constructs a reserved handle with the given tag byte.
func WellKnown(tag byte) Handle {
	var h Handle
	h[0] = tag
	return h
}

// RandomHandle draws a fresh, non-well-known handle from the entropy
// source. Collision resistance across the device's lifetime relies on
// the quality of rng.
func RandomHandle(rng ioReader) (Handle, error) {
	var h Handle
	for {
		if _, err := rng.Read(h[:]); err != nil {
			return Handle{}, err
		}
		if !h.IsWellKnown() {
			return h, nil
		}
	}
}

// ioReader is the minimal surface Store needs from an entropy source;
// crypto/rand.Reader satisfies it directly.
type ioReader interface {
	Read(p []byte) (int, error)
}

// SerializedKey is the tagged on-disk representation of key material:
// a stable numeric kind plus its raw bytes. Kind numbers are persisted
// and must never be renumbered.
type SerializedKey struct {
	Kind  Kind
	Value []byte
}

// Kind tags the cryptographic type of a SerializedKey's Value.
type Kind uint8

const (
	KindEd25519           Kind = 1
	KindEntropy32         Kind = 2
	KindP256              Kind = 3
	KindSharedSecret32    Kind = 4
	KindSymmetric32       Kind = 5
	KindSymmetric32Nonce12 Kind = 6
	KindSymmetric24       Kind = 7
	KindSymmetric20       Kind = 8
)

// MaxValueLen bounds SerializedKey.Value; 128 bytes covers every
// supported Kind with headroom.
const MaxValueLen = 128

// StoreKey generates a fresh random handle, serializes (kind, value)
// in the stable tagged form, and writes it under the key-type-prefixed
// path for loc.
func (s *Store) StoreKey(loc Location, kt KeyType, kind Kind, value []byte, rng ioReader) (Handle, error) {
	if len(value) > MaxValueLen {
		return Handle{}, errors.New("keystore: value exceeds MaxValueLen")
	}
	h, err := RandomHandle(rng)
	if err != nil {
		return Handle{}, err
	}
	blob, err := encodeSerializedKey(SerializedKey{Kind: kind, Value: value})
	if err != nil {
		return Handle{}, err
	}
	p, err := cleanPath(kt.prefix(), h.hex())
	if err != nil {
		return Handle{}, err
	}
	if err := s.Write(loc, p, blob); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// OverwriteKey rewrites the serialization at an existing handle's
// path, used to persist in-place updates such as AEAD nonce counters.
func (s *Store) OverwriteKey(loc Location, kt KeyType, kind Kind, h Handle, value []byte) error {
	if len(value) > MaxValueLen {
		return errors.New("keystore: value exceeds MaxValueLen")
	}
	blob, err := encodeSerializedKey(SerializedKey{Kind: kind, Value: value})
	if err != nil {
		return err
	}
	p, err := cleanPath(kt.prefix(), h.hex())
	if err != nil {
		return err
	}
	return s.Write(loc, p, blob)
}

// LoadKey searches Volatile, then Internal, then External for h and
// returns its decoded (kind, value). If expectedKind is non-nil and
// does not match, ErrWrongKeyKind is returned.
func (s *Store) LoadKey(kt KeyType, expectedKind *Kind, h Handle) (SerializedKey, Location, error) {
	order := [3]Location{Volatile, Internal, External}
	p, err := cleanPath(kt.prefix(), h.hex())
	if err != nil {
		return SerializedKey{}, 0, err
	}
	for _, loc := range order {
		blob, err := s.Read(loc, p)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return SerializedKey{}, 0, err
		}
		sk, err := decodeSerializedKey(blob)
		if err != nil {
			return SerializedKey{}, 0, err
		}
		if expectedKind != nil && sk.Kind != *expectedKind {
			return SerializedKey{}, 0, ErrWrongKeyKind
		}
		return sk, loc, nil
	}
	return SerializedKey{}, 0, ErrNotFound
}

// DeleteKey removes h's serialization from whichever tier(s) hold it,
// reporting success if it was removed from any.
func (s *Store) DeleteKey(kt KeyType, h Handle) (bool, error) {
	p, err := cleanPath(kt.prefix(), h.hex())
	if err != nil {
		return false, err
	}
	existedAny := false
	for _, loc := range [3]Location{Internal, External, Volatile} {
		existed, err := s.Delete(loc, p)
		if err != nil {
			return existedAny, err
		}
		existedAny = existedAny || existed
	}
	return existedAny, nil
}

// encodeSerializedKey and decodeSerializedKey are in cbor.go; keeping
// them split out makes the CBOR dependency boundary explicit.
