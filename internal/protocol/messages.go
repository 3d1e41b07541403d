package protocol

// Well-known ports.
const (
	CoordinationPort = 50000
	DiscoveryPort    = 50001
)

// MaxMessageSize bounds a single JSON message on the coordination protocol.
const MaxMessageSize = 64 << 20

// Discovery actions.
const (
	ActionDiscover     = "DISCOVER_SUPER_PEER"
	ActionAnnouncement = "SUPER_PEER_ANNOUNCEMENT"
)

// Coordination actions.
const (
	ActionRegister     = "REGISTER"
	ActionHeartbeat    = "HEARTBEAT"
	ActionRequestTask  = "REQUEST_TASK"
	ActionSubmitResult = "SUBMIT_RESULT"
	ActionListPeers    = "LIST_PEERS"
	ActionGetPeerInfo  = "GET_PEER_INFO"
	ActionTaskPackage  = "TASK_PACKAGE"
)

// Reply statuses.
const (
	StatusRegistered = "REGISTERED"
	StatusAlive      = "ALIVE"
	StatusOK         = "OK"
	StatusPeerFound  = "ok"
	StatusError      = "error"
)

// Probe is the discovery broadcast sent by workers.
type Probe struct {
	Action string `json:"action"`
}

// Announcement is the coordinator's answer to a Probe.
type Announcement struct {
	Action string `json:"action"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

// Valid reports whether the announcement names a usable coordinator.
func (a Announcement) Valid() bool {
	return a.Action == ActionAnnouncement && a.IP != "" && a.Port > 0 && a.Port < 65536
}

// Request is the union of all coordination requests. Only the fields relevant
// to Action are populated, except p2p_port, which is always sent so that a
// REGISTER for port 0 still carries it.
type Request struct {
	Action       string `json:"action"`
	PeerID       string `json:"peer_id"`
	P2PPort      int    `json:"p2p_port"`
	ResultName   string `json:"result_name,omitempty"`
	ResultData   string `json:"result_data,omitempty"`
	TargetPeerID string `json:"target_peer_id,omitempty"`
}

// StatusResponse answers REGISTER, HEARTBEAT and SUBMIT_RESULT.
type StatusResponse struct {
	Status string `json:"status"`
}

// TaskPackage answers REQUEST_TASK. TaskName and TaskData are null when no
// task is available.
type TaskPackage struct {
	Action   string  `json:"action"`
	TaskName *string `json:"task_name"`
	TaskData *string `json:"task_data"`
}

// Empty reports whether the package carries no task.
func (p TaskPackage) Empty() bool {
	return p.TaskName == nil || *p.TaskName == ""
}

// PeerList answers LIST_PEERS.
type PeerList struct {
	Peers []string `json:"peers"`
}

// PeerInfo answers GET_PEER_INFO. On failure only Status and Message are set.
type PeerInfo struct {
	Status   string `json:"status"`
	PeerID   string `json:"peer_id,omitempty"`
	PeerIP   string `json:"peer_ip,omitempty"`
	PeerPort *int   `json:"peer_port,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Port returns the announced port, or 0 when the reply carries none.
func (p PeerInfo) Port() int {
	if p.PeerPort == nil {
		return 0
	}
	return *p.PeerPort
}

// NewTaskPackage builds a TASK_PACKAGE reply carrying the named task.
func NewTaskPackage(name, encoded string) TaskPackage {
	return TaskPackage{Action: ActionTaskPackage, TaskName: &name, TaskData: &encoded}
}

// NoTaskPackage builds a TASK_PACKAGE reply with null task fields.
func NoTaskPackage() TaskPackage {
	return TaskPackage{Action: ActionTaskPackage}
}
