// Package cryptoservice is the in-process "syscall" server that owns
// all key material. It is driven by typed requests over an
// interchange.Slot, dispatches on (Mechanism, RequestKind), and is the
// only component that ever touches the keystore directly.
package cryptoservice

import "github.com/kgiusti/tokencore/internal/keystore"

// Mechanism names a cryptographic algorithm family.
type Mechanism int

const (
	MechanismChaCha8Poly1305 Mechanism = iota
	MechanismAES256CBC
	MechanismTDES
	MechanismEd25519
	MechanismP256
	MechanismSHA256
	MechanismNone // used by requests that carry no mechanism (RandomByteBuf, filesystem, UI)
)

// RequestKind names the syscall being made; each has a typed reply.
type RequestKind int

const (
	KindGenerateKey RequestKind = iota
	KindDeriveKey
	KindDeserializeKey
	KindSerializeKey
	KindDelete
	KindExists
	KindUnsafeInjectKey
	KindEncrypt
	KindDecrypt
	KindWrapKey
	KindUnwrapKey
	KindSign
	KindVerify
	KindAgree
	KindHash
	KindRandomByteBuf
	KindReadFile
	KindWriteFile
	KindRemoveFile
	KindRemoveDir
	KindLocateFile
	KindReadDirFirst
	KindReadDirNext
	KindReadDirFilesFirst
	KindReadDirFilesNext
	KindRequestUserConsent
	KindReboot
)

// ClientID names the requesting applet and roots every filesystem path
// the request touches.
type ClientID string

// SignatureVariant distinguishes encodings of an asymmetric signature.
type SignatureVariant int

const (
	SignatureRaw SignatureVariant = iota
	SignatureASN1DER
	SignaturePrehashed
)

// ConsentLevel is the strength of user-presence confirmation required.
type ConsentLevel int

const (
	ConsentNormal ConsentLevel = iota
	ConsentStrong
)

// Request is the single envelope type carried over the interchange
// between an applet and the cryptoservice. Exactly the fields relevant
// to Kind/Mechanism are populated; this mirrors a tagged union without
// needing Go sum types.
type Request struct {
	Client    ClientID
	Kind      RequestKind
	Mechanism Mechanism

	Key       keystore.Handle
	Key2      keystore.Handle // wrapping key, ECDH peer key, etc.
	Location  keystore.Location
	KeyType   keystore.KeyType
	Kind_     keystore.Kind // kind tag for Generate/Deserialize/Inject
	Data      []byte
	AAD       []byte
	Nonce     []byte // explicit nonce override; nil means "use persisted counter"
	Tag       []byte // authentication tag, for Decrypt
	Signature []byte
	Variant   SignatureVariant
	N         int // RandomByteBuf length

	Path     string
	DirHint  string
	NotAfter string // read_dir cursor

	ConsentLevel   ConsentLevel
	ConsentTimeout int // milliseconds
	RebootTo       int
}

// Reply is the single envelope type returned from the cryptoservice.
type Reply struct {
	Err Error

	Key       keystore.Handle
	Kind      keystore.Kind
	Data      []byte
	Nonce     []byte
	Tag       []byte
	Signature []byte
	Valid     bool // Verify result
	Exists    bool

	// UnwrapKey is distinct from a service error: authentication
	// failure yields Err=ErrNone, KeyPresent=false.
	KeyPresent bool

	Name    string
	HasMore bool
	Names   []string
}
