package toolserver

import (
	"log/slog"

	"github.com/ggoodman/toolpipe/transcript"
)

// Option customizes a Server.
type Option func(*Server)

// WithServerInfo sets the implementation name and version reported from
// initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) {
		s.info = Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the usage hint returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// WithTools registers tools. Later registrations replace earlier ones with
// the same name.
func WithTools(tools ...Tool) Option {
	return func(s *Server) {
		for _, t := range tools {
			s.addTool(t)
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// WithRecorder mirrors every inbound and outbound message to r.
func WithRecorder(r transcript.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(s *Server) {
		if id != "" {
			s.sessionID = id
		}
	}
}
