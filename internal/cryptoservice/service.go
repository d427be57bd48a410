package cryptoservice

import (
	"io"
	"path"
	"sync"

	"github.com/kgiusti/tokencore/internal/interchange"
	"github.com/kgiusti/tokencore/internal/keystore"
)

// Endpoint is the applet-facing half of a client's connection to the
// cryptoservice: an interchange.Requester for (Request, Reply).
type Endpoint = *interchange.Requester[Request, Reply]

// ConsentProvider asks the platform (UI, touch sensor, etc.) to
// confirm user presence. The zero value of Service auto-approves,
// which is adequate for tests and the development harness.
type ConsentProvider interface {
	RequestConsent(level ConsentLevel, timeoutMS int) bool
}

type autoApprove struct{}

func (autoApprove) RequestConsent(ConsentLevel, int) bool { return true }

// dirCursorKey identifies one client's resumable directory iteration,
// per design note in spec.md §9: cached on the cryptoservice side
// rather than serialized back into the reply.
type dirCursorKey struct {
	client ClientID
	loc    keystore.Location
	dir    string
}

// Service owns all key material and dispatches mechanism-tagged
// requests drained from each registered client's interchange slot.
type Service struct {
	store   *keystore.Store
	rng     io.Reader
	consent ConsentProvider

	mu        sync.Mutex
	responder map[ClientID]*interchange.Responder[Request, Reply]
	cursors   map[dirCursorKey]string
}

// New constructs a Service backed by store, drawing randomness from
// rng (normally crypto/rand.Reader; tests may inject a deterministic
// source to exercise EntropyMalfunction and nonce-overflow paths).
func New(store *keystore.Store, rng io.Reader) *Service {
	return &Service{
		store:     store,
		rng:       rng,
		consent:   autoApprove{},
		responder: make(map[ClientID]*interchange.Responder[Request, Reply]),
		cursors:   make(map[dirCursorKey]string),
	}
}

// SetConsentProvider overrides the default auto-approving consent
// provider, e.g. to wire a real UI prompt.
func (s *Service) SetConsentProvider(p ConsentProvider) { s.consent = p }

// Register creates a fresh interchange slot for client and returns the
// applet-facing Endpoint; the Service keeps the Responder half.
func (s *Service) Register(client ClientID) (Endpoint, error) {
	var slot interchange.Slot[Request, Reply]
	req, rsp, err := slot.Claim()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.responder[client] = rsp
	s.mu.Unlock()
	return req, nil
}

// Pump drains one pending request from every registered client
// endpoint, in Go map iteration order (not registration order), and
// deposits each reply. It does not block or wait for work; callers
// invoke it repeatedly from a polling loop (internal/pump's Run calls
// it once per loop iteration).
func (s *Service) Pump() {
	s.mu.Lock()
	responders := make(map[ClientID]*interchange.Responder[Request, Reply], len(s.responder))
	for c, r := range s.responder {
		responders[c] = r
	}
	s.mu.Unlock()

	for client, rsp := range responders {
		req, err := rsp.TakeRequest()
		if err != nil {
			continue // nothing pending for this client this round
		}
		req.Client = client
		reply := s.handle(req)
		_, _ = rsp.Respond(reply)
	}
}

func (s *Service) handle(req Request) Reply {
	switch req.Kind {
	case KindGenerateKey:
		return s.generateKey(req)
	case KindDeriveKey:
		return s.deriveKey(req)
	case KindDeserializeKey:
		return s.deserializeKey(req)
	case KindSerializeKey:
		return s.serializeKey(req)
	case KindDelete:
		return s.deleteKey(req)
	case KindExists:
		return s.existsKey(req)
	case KindUnsafeInjectKey:
		return s.injectKey(req)
	case KindEncrypt:
		return s.encrypt(req)
	case KindDecrypt:
		return s.decrypt(req)
	case KindWrapKey:
		return s.wrapKey(req)
	case KindUnwrapKey:
		return s.unwrapKey(req)
	case KindSign:
		return s.sign(req)
	case KindVerify:
		return s.verify(req)
	case KindAgree:
		return s.agree(req)
	case KindHash:
		return s.hash(req)
	case KindRandomByteBuf:
		return s.randomByteBuf(req)
	case KindReadFile, KindWriteFile, KindRemoveFile, KindRemoveDir,
		KindLocateFile, KindReadDirFirst, KindReadDirNext,
		KindReadDirFilesFirst, KindReadDirFilesNext:
		return s.filesystem(req)
	case KindRequestUserConsent:
		ok := s.consent.RequestConsent(req.ConsentLevel, req.ConsentTimeout)
		return Reply{Valid: ok}
	case KindReboot:
		return Reply{} // collaborator (scheduler glue) performs the actual reset
	default:
		return Reply{Err: ErrMechanismNotAvailable}
	}
}

// clientPath prefixes p with the requesting client's own root,
// preventing one applet's filesystem requests from touching another's
// files: p is resolved as if rooted at "/", so ".." segments cannot
// climb out of the client's directory.
func clientPath(client ClientID, p string) string {
	return path.Join(string(client), path.Clean("/"+p))
}
