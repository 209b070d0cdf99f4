package scope

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token identifies one ambient scope attachment. It is returned by Attach
// and consumed by Detach; a token is single-use but surviving a repeated or
// out-of-order Detach is part of the contract.
type Token struct {
	id    string
	name  string
	value string
}

// Name reports the scope name this token attached.
func (t *Token) Name() string { return t.name }

// store is the process-wide ambient scope store. Attachments stack per
// name: the most recent attachment shadows earlier ones until detached.
type store struct {
	mu      sync.Mutex
	entries []*Token
}

var ambient = &store{}

// Attach starts a process-wide scope visible to every span created until
// the matching Detach, on any goroutine. An empty value gets a generated
// identifier. It is the outermost-entry form of Start for callers that do
// not thread a context.
func Attach(name, value string) *Token {
	if name == "" {
		return nil
	}
	if value == "" {
		value = uuid.NewString()
	}
	t := &Token{id: uuid.NewString(), name: name, value: value}
	ambient.mu.Lock()
	ambient.entries = append(ambient.entries, t)
	ambient.mu.Unlock()
	return t
}

// Detach stops the scope attached under t. Detach assumes nothing about
// ordering: interleaved async work or streams that yield mid-call can
// release tokens out of nesting order or release one twice. A token that is
// no longer attached is logged and ignored instead of faulting, and the
// correctly nested case behaves exactly like a plain removal.
func Detach(t *Token) {
	if t == nil {
		return
	}
	ambient.mu.Lock()
	defer ambient.mu.Unlock()
	for i, entry := range ambient.entries {
		if entry.id == t.id {
			ambient.entries = append(ambient.entries[:i], ambient.entries[i+1:]...)
			return
		}
	}
	log().Debug("scope: detach of token that is not attached", zap.String("name", t.name))
}

// all snapshots the ambient scopes, later attachments shadowing earlier
// ones of the same name.
func (s *store) all() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes := make(map[string]string, len(s.entries))
	for _, entry := range s.entries {
		scopes[entry.name] = entry.value
	}
	return scopes
}

// reset clears the ambient store. Test helper.
func (s *store) reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
