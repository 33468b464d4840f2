package core

// Stage is the lifecycle phase of a connection. A connection only moves
// forward through the stages; the slot is reset to StageNone when released.
type Stage int32

const (
	StageNone Stage = iota
	StageAccepting
	StageHandshake
	StageConnected
	StageReading
	StageWorking
	StageBeforeWrite
	StageWrite
	StageComplete
	StageError
	StageSocketError
	StageClose
	StageClosed
	StageDestroying
)

var stageNames = [...]string{
	StageNone:        "NONE",
	StageAccepting:   "ACCEPTING",
	StageHandshake:   "HANDSHAKE",
	StageConnected:   "CONNECTED",
	StageReading:     "READING",
	StageWorking:     "WORKING",
	StageBeforeWrite: "BEFORE_WRITE",
	StageWrite:       "WRITE",
	StageComplete:    "COMPLETE",
	StageError:       "ERROR",
	StageSocketError: "SOCKET_ERROR",
	StageClose:       "CLOSE",
	StageClosed:      "CLOSED",
	StageDestroying:  "DESTROYING",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNDEFINED"
	}
	return stageNames[s]
}

// JobStage tells which hand-off queue currently owns a connection.
//
//	NONE -> WAITING -> WORKING -> WAITMAIN -> NONE
type JobStage int32

const (
	JobNone     JobStage = iota // owned by the I/O goroutine
	JobWaiting                  // queued for a worker
	JobWorking                  // a worker is running it
	JobWaitMain                 // queued for the I/O goroutine
)

func (s JobStage) String() string {
	switch s {
	case JobNone:
		return "NONE"
	case JobWaiting:
		return "WAITING"
	case JobWorking:
		return "WORKING"
	case JobWaitMain:
		return "WAITMAIN"
	default:
		return "UNDEFINED"
	}
}
