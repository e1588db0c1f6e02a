package api

import (
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type StartRequest struct {
	Strategy string        `json:"strategy"`
	Params   hexutil.Bytes `json:"params"`
	Payload  hexutil.Bytes `json:"payload"`
}

type StartResponse struct {
	ID uint64 `json:"id"`
}

type VoteRequest struct {
	Choice hexutil.Bytes `json:"choice"`
}

type VoteResponse struct {
	ID     uint64        `json:"id"`
	Status voting.Status `json:"status"`
}

type ImplementRequest struct {
	Payload hexutil.Bytes `json:"payload"`
}

type ImplementResponse struct {
	ID     uint64        `json:"id"`
	Status voting.Status `json:"status"`
	Return hexutil.Bytes `json:"return,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type InstanceResponse struct {
	ID           uint64         `json:"id"`
	Strategy     string         `json:"strategy"`
	Status       voting.Status  `json:"status"`
	Initiator    common.Address `json:"initiator"`
	Target       common.Address `json:"target"`
	Opened       time.Time      `json:"opened"`
	Deadline     time.Time      `json:"deadline"`
	ExpectReturn bool           `json:"expectReturn"`
	Guard        string         `json:"guard"`
	Digest       common.Hash    `json:"digest"`
	PayloadLen   int            `json:"payloadLength"`
	Offset       *int           `json:"offset,omitempty"`
}

func instanceResponse(inst voting.Instance) InstanceResponse {
	resp := InstanceResponse{
		ID:           inst.ID,
		Strategy:     inst.Strategy,
		Status:       inst.Status,
		Initiator:    inst.Initiator,
		Target:       inst.Target,
		Opened:       inst.Opened,
		Deadline:     inst.Deadline().At(),
		ExpectReturn: inst.ExpectReturn,
		Guard:        inst.Guard.String(),
		Digest:       inst.Digest,
		PayloadLen:   inst.PayloadLen,
	}
	if inst.Offset != voting.NoOffset {
		offset := inst.Offset
		resp.Offset = &offset
	}
	return resp
}

type ResultResponse struct {
	ID     uint64        `json:"id"`
	Result hexutil.Bytes `json:"result"`
}

type IndexResponse struct {
	Index uint64 `json:"index"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
