package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// State is a supervisord process state code.
type State int

const (
	StateStopped  State = 0
	StateStarting State = 10
	StateRunning  State = 20
	StateBackoff  State = 30
	StateStopping State = 40
	StateExited   State = 100
	StateFatal    State = 200
	StateUnknown  State = 1000
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateBackoff:
		return "BACKOFF"
	case StateStopping:
		return "STOPPING"
	case StateExited:
		return "EXITED"
	case StateFatal:
		return "FATAL"
	case StateUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// ProcessInfo is a snapshot of one supervised process as reported by supervisord.
// It is fetched fresh on every tick and must not be cached: the pid changes on restart.
type ProcessInfo struct {
	Name        string
	Group       string
	PID         int
	State       State
	StateName   string
	Description string
	StartedAt   time.Time
}

// FullName returns the group-qualified name accepted by the control API.
func (p ProcessInfo) FullName() string {
	if p.Group == "" || strings.Contains(p.Name, ":") {
		return p.Name
	}
	return p.Group + ":" + p.Name
}

// Running reports whether the process is in the RUNNING state.
func (p ProcessInfo) Running() bool { return p.State == StateRunning }

// rpcProcessInfo mirrors the struct returned by supervisor.getProcessInfo.
type rpcProcessInfo struct {
	Name          string `xmlrpc:"name"`
	Group         string `xmlrpc:"group"`
	Description   string `xmlrpc:"description"`
	Start         int64  `xmlrpc:"start"`
	Stop          int64  `xmlrpc:"stop"`
	Now           int64  `xmlrpc:"now"`
	State         int    `xmlrpc:"state"`
	StateName     string `xmlrpc:"statename"`
	SpawnErr      string `xmlrpc:"spawnerr"`
	ExitStatus    int    `xmlrpc:"exitstatus"`
	Logfile       string `xmlrpc:"logfile"`
	StdoutLogfile string `xmlrpc:"stdout_logfile"`
	StderrLogfile string `xmlrpc:"stderr_logfile"`
	PID           int    `xmlrpc:"pid"`
}

func (r rpcProcessInfo) toInfo() ProcessInfo {
	p := ProcessInfo{
		Name:        r.Name,
		Group:       r.Group,
		PID:         r.PID,
		State:       State(r.State),
		StateName:   r.StateName,
		Description: r.Description,
	}
	if r.Start > 0 {
		p.StartedAt = time.Unix(r.Start, 0)
	}
	return p
}

type rpcState struct {
	Code int    `xmlrpc:"statecode"`
	Name string `xmlrpc:"statename"`
}
