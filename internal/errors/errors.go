package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by where it came from.
type Kind string

const (
	KindInternal  Kind = "internal"
	KindConfig    Kind = "config"    // Missing or invalid configuration, e.g. no api key
	KindTransport Kind = "transport" // The remote could not be reached, or answered with a bad status
	KindAPI       Kind = "api"       // The remote answered with an error envelope
	KindDecode    Kind = "decode"    // The remote body did not match the expected schema
	KindStorage   Kind = "storage"   // The durable store failed to read or write
	KindNotFound  Kind = "not_found"
	KindInvalid   Kind = "invalid"
)

// Code is a machine readable code, as handed back by the remote api.
type Code string

// Error represents a universal error type for the loader and its collaborators.
type Error struct {
	Kind   Kind
	Code   Code
	Status int
	Err    error // The error this wraps
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code,omitempty"`
	Status  int    `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(transport{
		Message: Message(e),
		Kind:    e.Kind,
		Code:    e.Code,
		Status:  e.Status,
	})
}

func (e *Error) UnmarshalJSON(byts []byte) error {
	t := transport{}
	if err := json.Unmarshal(byts, &t); err != nil {
		return err
	}

	e.Err = errors.New(t.Message)
	e.Kind = t.Kind
	e.Code = t.Code
	e.Status = t.Status
	return nil
}

// E builds an [Error] out of whatever it's given.
//
// Strings and errors become the wrapped error, a [Kind] or [Code] sets those
// fields and an int is taken as the http status. Without a status one is
// derived from the kind.
func E(args ...any) *Error {
	ret := &Error{
		Kind: KindInternal,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case Kind:
			ret.Kind = arg
		case Code:
			ret.Code = arg
		case int:
			ret.Status = arg
		}
	}

	if ret.Err == nil {
		ret.Err = errors.New(string(ret.Kind))
	}
	if ret.Status == 0 {
		ret.Status = statusFor(ret.Kind)
	}

	return ret
}

func statusFor(k Kind) int {
	switch k {
	case KindInvalid, KindConfig:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport, KindAPI, KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindOf reports the kind of the first [Error] in the chain, or [KindInternal].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message is the user readable text for an error.
//
// For an [Error] that's the text of what it wraps, so an api error reads
// exactly as the api phrased it.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
