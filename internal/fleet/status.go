package fleet

import "time"

// Status is the lifecycle state of a supervised server process.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the supervisor has given up on the process.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// ServerState is a point-in-time snapshot of one supervised server.
type ServerState struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	PID       int        `json:"pid,omitempty"`
	Restarts  int        `json:"restarts"`
	LastError string     `json:"last_error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Summary aggregates fleet health for the /health endpoint.
type Summary struct {
	Total     int  `json:"total"`
	Running   int  `json:"running"`
	Starting  int  `json:"starting"`
	Unhealthy int  `json:"unhealthy"`
	Stopped   int  `json:"stopped"`
	Failed    int  `json:"failed"`
	OK        bool `json:"ok"`
}

// Summarize folds a status list into a fleet summary. The fleet is OK
// when nothing is failed or unhealthy.
func Summarize(states []ServerState) Summary {
	s := Summary{Total: len(states)}
	for _, st := range states {
		switch st.Status {
		case StatusRunning:
			s.Running++
		case StatusStarting:
			s.Starting++
		case StatusUnhealthy:
			s.Unhealthy++
		case StatusStopped:
			s.Stopped++
		case StatusFailed:
			s.Failed++
		}
	}
	s.OK = s.Failed == 0 && s.Unhealthy == 0
	return s
}
