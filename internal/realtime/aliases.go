package realtime

import (
	"strings"
	"sync"
)

// AliasMap traduce el id de operador que presenta el cliente al id durable.
// Los clientes pueden reconectar con un token viejo; el alias conserva la
// continuidad de la asignacion.
type AliasMap struct {
	mu      sync.RWMutex
	aliases map[string]string
}

func NewAliasMap() *AliasMap {
	return &AliasMap{aliases: make(map[string]string)}
}

func (a *AliasMap) Bind(presented, durable string) {
	presented = strings.TrimSpace(presented)
	if presented == "" || durable == "" || presented == durable {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliases[presented] = durable
}

// Resolve devuelve el id durable o, si no hay alias, el presentado.
func (a *AliasMap) Resolve(presented string) string {
	presented = strings.TrimSpace(presented)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if durable, ok := a.aliases[presented]; ok {
		return durable
	}
	return presented
}

func (a *AliasMap) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.aliases)
}
