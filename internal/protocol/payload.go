package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPayload marks a Return payload that could not be decoded into the type
// the action is documented to return.
var ErrPayload = errors.New("malformed return payload")

// Return payload shapes, per action:
//
//	ReportInputs    []ReceiverInfo
//	ListOutputs     []string
//	ListInputs      []string
//	ListStructures  []string
//	Status          bool (true when awake)
//	Name, Version   string
//
// These must stay in sync with the animus daemon.

// DecodeReturn decodes the payload of a Return outcome into T. Any other
// outcome variant is a protocol violation for callers that expect data.
func DecodeReturn[T any](o Outcome) (T, error) {
	var v T
	if o.Type != OutcomeReturn {
		return v, fmt.Errorf("%w: expected Return outcome, got %s", ErrProtocol, o)
	}
	if err := json.Unmarshal(o.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	return v, nil
}

// DecodeReceivers decodes a ReportInputs payload.
func DecodeReceivers(o Outcome) ([]ReceiverInfo, error) {
	list, err := DecodeReturn[[]ReceiverInfo](o)
	if err != nil {
		return nil, err
	}
	for i, info := range list {
		if info.TractName == "" {
			return nil, fmt.Errorf("%w: receiver %d has no tract name", ErrPayload, i)
		}
	}
	return list, nil
}

// DecodeReceiver decodes a single ReceiverInfo payload.
func DecodeReceiver(o Outcome) (ReceiverInfo, error) {
	return DecodeReturn[ReceiverInfo](o)
}

// DecodeNames decodes a ListOutputs, ListInputs or ListStructures payload.
func DecodeNames(o Outcome) ([]string, error) {
	return DecodeReturn[[]string](o)
}

// DecodeAwake decodes a Status payload.
func DecodeAwake(o Outcome) (bool, error) {
	return DecodeReturn[bool](o)
}

// DecodeText decodes a Name or Version payload.
func DecodeText(o Outcome) (string, error) {
	return DecodeReturn[string](o)
}
