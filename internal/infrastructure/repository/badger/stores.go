package badger

import "log/slog"

// Stores bundles every embedded repository over one backend.
type Stores struct {
	Backend   *Backend
	Documents *DocumentRepository
	Chunks    *ChunkRepository
	Sessions  *SessionRepository
	Jobs      *JobStore
	Index     *VectorIndex
}

// Open opens dir (or an in-memory database) and builds all repositories on it.
// Caller must Close the result.
func Open(dir string, inMemory bool, logger *slog.Logger) (*Stores, error) {
	backend, err := OpenBackend(dir, inMemory, logger)
	if err != nil {
		return nil, err
	}
	jobs, err := NewJobStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &Stores{
		Backend:   backend,
		Documents: NewDocumentRepository(backend),
		Chunks:    NewChunkRepository(backend),
		Sessions:  NewSessionRepository(backend),
		Jobs:      jobs,
		Index:     NewVectorIndex(backend),
	}, nil
}

func (s *Stores) Close() error {
	if err := s.Jobs.Close(); err != nil {
		s.Backend.Close()
		return err
	}
	return s.Backend.Close()
}
