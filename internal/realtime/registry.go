package realtime

import (
	"sort"
	"sync"

	"screen-server/internal/domain"
)

// Handle es el extremo de transporte de una conexion. Send no debe bloquear:
// devuelve false si el evento se descarto.
type Handle interface {
	ID() string
	Send(event Event) bool
}

// Connection es la vista de una conexion registrada.
type Connection struct {
	Handle          Handle
	ParticipantID   string
	ParticipantType domain.ParticipantType
	SessionID       string
}

// Registry relaciona handles de transporte con la identidad del participante y
// la sesion actual. Todas las operaciones devuelven copias.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
	order map[string]uint64
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Connection),
		order: make(map[string]uint64),
	}
}

// Register crea o reemplaza la entrada del handle.
func (r *Registry) Register(h Handle, participantID string, participantType domain.ParticipantType, sessionID string) Connection {
	conn := Connection{
		Handle:          h,
		ParticipantID:   participantID,
		ParticipantType: participantType,
		SessionID:       sessionID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[h.ID()]; !ok {
		r.seq++
		r.order[h.ID()] = r.seq
	}
	r.conns[h.ID()] = conn
	return conn
}

func (r *Registry) Lookup(h Handle) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[h.ID()]
	return conn, ok
}

// UpdateSession cambia la sesion ligada al handle. Devuelve false si no esta registrado.
func (r *Registry) UpdateSession(h Handle, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[h.ID()]
	if !ok {
		return false
	}
	conn.SessionID = sessionID
	r.conns[h.ID()] = conn
	return true
}

// Deregister elimina el handle. Repetirlo no tiene efecto.
func (r *Registry) Deregister(h Handle) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[h.ID()]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, h.ID())
	delete(r.order, h.ID())
	return conn, true
}

func (r *Registry) All() []Connection {
	return r.filter(func(Connection) bool { return true })
}

// Operators devuelve todas las conexiones de tipo operador.
func (r *Registry) Operators() []Connection {
	return r.filter(func(c Connection) bool { return c.ParticipantType == domain.ParticipantOperator })
}

// InSession devuelve las conexiones ligadas a la sesion.
func (r *Registry) InSession(sessionID string) []Connection {
	if sessionID == "" {
		return nil
	}
	return r.filter(func(c Connection) bool { return c.SessionID == sessionID })
}

// OperatorConnections devuelve las conexiones abiertas de un operador.
func (r *Registry) OperatorConnections(operatorID string) []Connection {
	return r.filter(func(c Connection) bool {
		return c.ParticipantType == domain.ParticipantOperator && c.ParticipantID == operatorID
	})
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// filter respeta el orden de registro para que los broadcasts sean deterministas.
func (r *Registry) filter(keep func(Connection) bool) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.order[out[i].Handle.ID()] < r.order[out[j].Handle.ID()]
	})
	return out
}
