package cryptoservice

import "github.com/kgiusti/tokencore/internal/keystore"

// filesystem dispatches the per-client, path-prefixed filesystem
// passthrough requests. clientPath roots every path under the
// requesting client's own directory; keystore.Store independently
// refuses any path that climbs above a tier's root.
func (s *Service) filesystem(req Request) Reply {
	switch req.Kind {
	case KindReadFile:
		data, err := s.store.Read(req.Location, clientPath(req.Client, req.Path))
		if err != nil {
			if err == keystore.ErrNotFound {
				return Reply{Err: ErrNoSuchKey}
			}
			return Reply{Err: ErrFilesystemReadFailure}
		}
		return Reply{Data: data}

	case KindWriteFile:
		if err := s.store.Write(req.Location, clientPath(req.Client, req.Path), req.Data); err != nil {
			return Reply{Err: ErrFilesystemWriteFailure}
		}
		return Reply{}

	case KindRemoveFile, KindRemoveDir:
		existed, err := s.store.Delete(req.Location, clientPath(req.Client, req.Path))
		if err != nil {
			return Reply{Err: ErrFilesystemWriteFailure}
		}
		return Reply{Exists: existed}

	case KindLocateFile:
		p, err := s.store.LocateFile(req.Location, clientPath(req.Client, req.DirHint), req.Path)
		if err != nil {
			return Reply{Err: ErrNoSuchKey}
		}
		return Reply{Name: p}

	case KindReadDirFirst, KindReadDirFilesFirst:
		key := dirCursorKey{client: req.Client, loc: req.Location, dir: req.Path}
		name, more, err := s.store.ReadDirFirst(req.Location, clientPath(req.Client, req.Path), req.NotAfter)
		if err != nil {
			return Reply{Err: ErrFilesystemReadFailure}
		}
		s.mu.Lock()
		s.cursors[key] = name
		s.mu.Unlock()
		return Reply{Name: name, HasMore: more}

	case KindReadDirNext, KindReadDirFilesNext:
		key := dirCursorKey{client: req.Client, loc: req.Location, dir: req.Path}
		s.mu.Lock()
		cursor := s.cursors[key]
		s.mu.Unlock()
		name, more, err := s.store.ReadDirNext(req.Location, clientPath(req.Client, req.Path), cursor)
		if err != nil {
			return Reply{Err: ErrFilesystemReadFailure}
		}
		s.mu.Lock()
		if name != "" {
			s.cursors[key] = name
		} else {
			delete(s.cursors, key)
		}
		s.mu.Unlock()
		return Reply{Name: name, HasMore: more}

	default:
		return Reply{Err: ErrMechanismNotAvailable}
	}
}
