package netsync

import (
	"arena/netsync/internal/state"
)

// RemoteEntities returns every remote entity with its latest render state,
// ordered by ID.
func (s *Synchronizer) RemoteEntities() []RemoteView {
	ids := s.remoteIDs()
	views := make([]RemoteView, 0, len(ids))
	for _, id := range ids {
		views = append(views, s.remoteView(id))
	}
	return views
}

// RemoteEntity looks up one remote entity.
func (s *Synchronizer) RemoteEntity(id string) (RemoteView, bool) {
	if _, ok := s.remotes[id]; !ok {
		return RemoteView{}, false
	}
	return s.remoteView(id), true
}

func (s *Synchronizer) remoteView(id string) RemoteView {
	view := RemoteView{Entity: *s.remotes[id]}
	view.Render, view.Rendered = s.renders[id]
	return view
}

// Projectiles returns the live projectiles ordered by ID.
func (s *Synchronizer) Projectiles() []state.ProjectileState {
	return s.projectiles.All()
}

// MatchState returns the last authoritative match state and whether one has
// been received.
func (s *Synchronizer) MatchState() (state.MatchState, bool) {
	return s.match.Clone(), s.hasMatch
}

// LocalState returns the predicted local entity. It is false until the first
// initial state arrives.
func (s *Synchronizer) LocalState() (state.LocalEntityState, bool) {
	if s.engine == nil {
		return state.LocalEntityState{}, false
	}
	return s.engine.CurrentState(), true
}

// LocalEntityID is the server-assigned ID of the local player.
func (s *Synchronizer) LocalEntityID() string {
	return s.localID
}

// LastFrame returns the frame produced by the most recent Tick.
func (s *Synchronizer) LastFrame() Frame {
	return s.lastFrame
}
