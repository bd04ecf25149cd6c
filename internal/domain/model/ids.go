package model

import "github.com/google/uuid"

// SubjectID is the stable participant identity issued at first contact.
// It survives reconnects and doubles as the recovery token presented by
// the client on register.
type SubjectID string

// ConnectionID identifies one physical connection. A participant cycles
// through many of these over its lifetime.
type ConnectionID string

// SessionID identifies one matched group's playthrough of one scene.
// It is also the group id recorded in group history.
type SessionID string

// SceneID names one experiment content unit. The coordinator only ever
// treats it as an opaque key into the scene metadata table.
type SceneID string

// ProbeID identifies one pre-session connectivity probe.
type ProbeID string

func NewSubjectID() SubjectID       { return SubjectID(uuid.NewString()) }
func NewConnectionID() ConnectionID { return ConnectionID(uuid.NewString()) }
func NewSessionID() SessionID       { return SessionID(uuid.NewString()) }
func NewProbeID() ProbeID           { return ProbeID(uuid.NewString()) }
