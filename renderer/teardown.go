package renderer

import "log/slog"

type releaseEntry struct {
	name    string
	release func()
}

// releaseStack collects release functions as objects are created and runs them in reverse
// creation order.
type releaseStack struct {
	entries []releaseEntry
}

func (s *releaseStack) push(name string, release func()) {
	s.entries = append(s.entries, releaseEntry{name: name, release: release})
}

func (s *releaseStack) len() int {
	return len(s.entries)
}

func (s *releaseStack) release(logger *slog.Logger) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if logger != nil {
			logger.Debug("releasing", "object", entry.name)
		}
		entry.release()
	}
	s.entries = s.entries[:0]
}
