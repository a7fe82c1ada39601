package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fluxgrid/tmgr/internal/task"
)

// HeartbeatCode is the literal sentinel value spec.md §6 uses for both
// the outbound heartbeat frame and the inbound heartbeat the Interchange
// loops back: 4 bytes, little-endian, all bits set.
const HeartbeatCode uint32 = 0xFFFFFFFF

// stopLiteral is the exact payload of an inbound STOP frame.
const stopLiteral = "STOP"

// Registration is the one-frame JSON object the Manager sends on the
// uplink-tasks socket immediately after startup.
type Registration struct {
	ParslVersion  string `json:"parsl_v"`
	PythonVersion string `json:"python_v"`
	WorkerCount   int    `json:"worker_count"`
	Cores         int    `json:"cores"`
	MemMB         int    `json:"mem"`
	BlockID       string `json:"block_id"`
	OS            string `json:"os"`
	Hostname      string `json:"hname"`
	Dir           string `json:"dir"`
}

// EncodeRegistration serializes a Registration to its wire frame.
func EncodeRegistration(reg Registration) ([]byte, error) {
	b, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode registration: %w", err)
	}
	return b, nil
}

// EncodeHeartbeat returns the 4-byte little-endian heartbeat frame.
func EncodeHeartbeat() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, HeartbeatCode)
	return buf
}

// EncodeCapacityRequest returns the 4-byte little-endian capacity frame.
func EncodeCapacityRequest(workerCount uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, workerCount)
	return buf
}

// UplinkKind classifies a decoded inbound uplink-tasks frame.
type UplinkKind int

const (
	KindTaskBatch UplinkKind = iota
	KindHeartbeat
	KindStop
)

// wireTask is the JSON shape of one Task record on the wire.
type wireTask struct {
	TaskID string `json:"task_id"`
	Buffer []byte `json:"buffer"`
}

// DecodeUplinkFrame classifies and decodes one inbound uplink-tasks
// frame. The wire carries no explicit type tag — the same as the
// source protocol — so the Manager tells the three shapes apart by
// attempting each decode in turn: a 4-byte frame equal to HeartbeatCode
// is a heartbeat, the literal string "STOP" is a stop request,
// otherwise the frame is a JSON task batch.
func DecodeUplinkFrame(data []byte) (UplinkKind, []task.Task, error) {
	if len(data) == 4 && binary.LittleEndian.Uint32(data) == HeartbeatCode {
		return KindHeartbeat, nil, nil
	}
	if string(data) == stopLiteral {
		return KindStop, nil, nil
	}

	var wts []wireTask
	if err := json.Unmarshal(data, &wts); err != nil {
		return KindTaskBatch, nil, fmt.Errorf("wire: decode task batch: %w", err)
	}
	tasks := make([]task.Task, len(wts))
	for i, wt := range wts {
		tasks[i] = task.Task{ID: wt.TaskID, Buffer: wt.Buffer}
	}
	return KindTaskBatch, tasks, nil
}

// workerFrameType is the three worker-protocol message types carried in
// the second frame of a downlink-workers message.
type workerFrameType string

const (
	FrameRegister workerFrameType = "REGISTER"
	FrameTaskRet  workerFrameType = "TASK_RET"
	FrameWrkrDie  workerFrameType = "WRKR_DIE"
)

// workerRegistration is the payload of a REGISTER frame.
type workerRegistration struct {
	WorkerType string `json:"worker_type"`
}

// DecodeWorkerRegistration extracts worker_type from a REGISTER payload.
func DecodeWorkerRegistration(payload []byte) (string, error) {
	var reg workerRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return "", fmt.Errorf("wire: decode worker registration: %w", err)
	}
	return reg.WorkerType, nil
}

// EncodeWorkerRegistration serializes a REGISTER payload, used by test
// fakes that play the worker side of the protocol.
func EncodeWorkerRegistration(workerType string) []byte {
	b, _ := json.Marshal(workerRegistration{WorkerType: workerType})
	return b
}
