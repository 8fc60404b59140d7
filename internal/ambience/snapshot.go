package ambience

import (
	"github.com/liuscraft/orion-ambience/internal/audio"
	"github.com/liuscraft/orion-ambience/internal/scheduler"
	"github.com/liuscraft/orion-ambience/internal/voicelink"
)

// Snapshot 引擎状态快照
type Snapshot struct {
	Initialized bool
	Loading     bool
	Error       error
	SessionID   string

	ActiveAmbience   string
	SchedulerRunning bool
	Scheduler        scheduler.Stats
	// Ducking is true while the gate is closed and SFX/Ambience are attenuated.
	Ducking bool
	Duck    audio.DuckState

	Integration voicelink.IntegrationState
	Levels      Levels

	Assets          []audio.AssetRecord
	ActivePlaybacks int
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	s := e.sess
	snap := Snapshot{
		Initialized:    s != nil,
		Loading:        e.loading,
		Error:          e.initErr,
		ActiveAmbience: e.ambienceKey,
		Levels:         e.levels,
		Duck:           audio.DuckState{Gate: audio.GateOpen, Current: 1, Target: 1},
	}
	e.mu.Unlock()

	if s == nil {
		return snap
	}
	snap.SessionID = s.id
	snap.Scheduler = s.sched.Stats()
	snap.SchedulerRunning = snap.Scheduler.Running
	snap.Duck = s.ducker.State()
	snap.Ducking = snap.Duck.Gate == audio.GateClosed
	snap.Integration = s.adapter.State()
	snap.Assets = s.registry.Records()
	snap.ActivePlaybacks = len(s.ctrl.Active())
	return snap
}
