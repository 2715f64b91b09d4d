package rpc

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ErrMalformedMessage is returned when a Struct is missing a field or a field
// has the wrong kind.
var ErrMalformedMessage = errors.New("rpc: malformed message")

// Struct field names.
const (
	FieldWork       = "work"
	FieldJobID      = "job_id"
	FieldChunkSize  = "chunk_size"
	FieldTotalUnits = "total_units"
	FieldShutdown   = "shutdown"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldWorkerID   = "worker_id"
)

// maxExactInt is the largest integer a float64 NumberValue holds exactly.
const maxExactInt = 1 << 53

// EncodeOffer converts a WorkOffer into its wire Struct.
func EncodeOffer(o types.WorkOffer) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldWork:     structpb.NewBoolValue(o.Work),
		FieldShutdown: structpb.NewBoolValue(o.Shutdown),
	}
	if o.Work {
		fields[FieldJobID] = structpb.NewNumberValue(float64(o.JobID))
		fields[FieldChunkSize] = structpb.NewNumberValue(float64(o.ChunkSize))
		fields[FieldTotalUnits] = structpb.NewNumberValue(float64(o.TotalUnits))
	}
	return &structpb.Struct{Fields: fields}
}

// DecodeOffer parses a RequestWork response.
func DecodeOffer(s *structpb.Struct) (types.WorkOffer, error) {
	work, err := boolField(s, FieldWork)
	if err != nil {
		return types.WorkOffer{}, err
	}
	if !work {
		shutdown, err := optionalBool(s, FieldShutdown)
		if err != nil {
			return types.WorkOffer{}, err
		}
		return types.WorkOffer{Shutdown: shutdown}, nil
	}

	id, err := intField(s, FieldJobID)
	if err != nil {
		return types.WorkOffer{}, err
	}
	chunk, err := intField(s, FieldChunkSize)
	if err != nil {
		return types.WorkOffer{}, err
	}
	total, err := intField(s, FieldTotalUnits)
	if err != nil {
		return types.WorkOffer{}, err
	}
	return types.WorkOffer{
		Work:       true,
		JobID:      types.JobID(id),
		ChunkSize:  chunk,
		TotalUnits: total,
	}, nil
}

// EncodeJobID builds a RefreshHeartbeat request.
func EncodeJobID(id types.JobID) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldJobID: structpb.NewNumberValue(float64(id)),
	}}
}

// DecodeJobID parses a RefreshHeartbeat request.
func DecodeJobID(s *structpb.Struct) (types.JobID, error) {
	id, err := intField(s, FieldJobID)
	if err != nil {
		return 0, err
	}
	return types.JobID(id), nil
}

// Completion is the decoded form of a ReportCompletion request.
type Completion struct {
	JobID   types.JobID
	Success bool
	Info    types.CompletionInfo
}

// EncodeCompletion builds a ReportCompletion request. Empty info fields are
// left out of the Struct.
func EncodeCompletion(id types.JobID, success bool, info types.CompletionInfo) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldJobID:   structpb.NewNumberValue(float64(id)),
		FieldSuccess: structpb.NewBoolValue(success),
	}
	if info.Error != "" {
		fields[FieldError] = structpb.NewStringValue(info.Error)
	}
	if info.WorkerID != "" {
		fields[FieldWorkerID] = structpb.NewStringValue(info.WorkerID)
	}
	return &structpb.Struct{Fields: fields}
}

// DecodeCompletion parses a ReportCompletion request.
func DecodeCompletion(s *structpb.Struct) (Completion, error) {
	id, err := DecodeJobID(s)
	if err != nil {
		return Completion{}, err
	}
	success, err := boolField(s, FieldSuccess)
	if err != nil {
		return Completion{}, err
	}
	reason, err := optionalString(s, FieldError)
	if err != nil {
		return Completion{}, err
	}
	workerID, err := optionalString(s, FieldWorkerID)
	if err != nil {
		return Completion{}, err
	}
	return Completion{
		JobID:   types.JobID(id),
		Success: success,
		Info:    types.CompletionInfo{Error: reason, WorkerID: workerID},
	}, nil
}

func field(s *structpb.Struct, name string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[name]
	return v, ok && v != nil
}

func boolField(s *structpb.Struct, name string) (bool, error) {
	v, ok := field(s, name)
	if !ok {
		return false, fmt.Errorf("%w: missing %q", ErrMalformedMessage, name)
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %q is not a bool", ErrMalformedMessage, name)
	}
	return b.BoolValue, nil
}

func optionalBool(s *structpb.Struct, name string) (bool, error) {
	if _, ok := field(s, name); !ok {
		return false, nil
	}
	return boolField(s, name)
}

func intField(s *structpb.Struct, name string) (int64, error) {
	v, ok := field(s, name)
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedMessage, name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedMessage, name)
	}
	f := n.NumberValue
	if f < 0 || f > maxExactInt || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer: %v", ErrMalformedMessage, name, f)
	}
	return int64(f), nil
}

func optionalString(s *structpb.Struct, name string) (string, error) {
	v, ok := field(s, name)
	if !ok {
		return "", nil
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", ErrMalformedMessage, name)
	}
	return str.StringValue, nil
}
