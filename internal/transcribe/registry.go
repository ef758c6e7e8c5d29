package transcribe

import (
	"fmt"
	"sync"
)

// Registry manages speech-to-text backends and provides fallback
// transcription. It satisfies Provider, so the pipeline talks to the
// registry directly.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	primary  string
	fallback string
	opts     Options
}

// NewRegistry creates an empty backend registry using opts for every
// transcription request.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		opts:     opts,
	}
}

// Register adds a backend. The first registered backend becomes the primary
// by default.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
	if r.primary == "" {
		r.primary = name
	}
}

// SetPrimary sets the primary backend by name.
func (r *Registry) SetPrimary(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.primary = name
}

// SetFallback sets the fallback backend by name.
func (r *Registry) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Get returns a backend by name, or false if not found.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// Primary returns the primary backend, or nil if none configured.
func (r *Registry) Primary() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[r.primary]
}

// Fallback returns the fallback backend, or nil if none configured.
func (r *Registry) Fallback() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return nil
	}
	return r.backends[r.fallback]
}

// Backends returns the names of all registered backends.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// TranscribeFile tries the primary backend first, falling back on error.
func (r *Registry) TranscribeFile(filePath string) (*Transcript, error) {
	r.mu.RLock()
	primaryName, fallbackName, opts := r.primary, r.fallback, r.opts
	r.mu.RUnlock()

	primary := r.Primary()
	if primary == nil {
		return nil, fmt.Errorf("transcribe: no primary backend configured: %w", ErrRecognizerUnavailable)
	}

	transcript, err := primary.TranscribeFile(filePath, opts)
	if err == nil {
		return transcript, nil
	}

	fallback := r.Fallback()
	if fallback == nil {
		return nil, fmt.Errorf("transcribe: primary backend %q failed: %w", primaryName, err)
	}

	transcript, fbErr := fallback.TranscribeFile(filePath, opts)
	if fbErr != nil {
		return nil, fmt.Errorf("transcribe: primary %q failed (%v), fallback %q also failed: %w", primaryName, err, fallbackName, fbErr)
	}
	return transcript, nil
}

// Transcribe implements Provider: transcribe with fallback and flatten to
// the stored text form. A transcript with no usable text is ErrEmptyResult.
func (r *Registry) Transcribe(audioPath string) (string, error) {
	transcript, err := r.TranscribeFile(audioPath)
	if err != nil {
		return "", err
	}
	text := transcript.FullText()
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
