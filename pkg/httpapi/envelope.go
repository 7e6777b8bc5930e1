package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
)

// Envelope is the response shape every handler returns: always an
// object, never a bare array or scalar (spec §4.10). Extra fields a
// specific route wants to add ride in Extra and are flattened into the
// top-level object at encode time.
type Envelope struct {
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
	ErrorExt errorExt    `json:"error_ext,omitempty"`
	Warning  string      `json:"warning,omitempty"`
	Extra    interface{} `json:"-"`
}

type errorExt struct {
	Kind string `json:"kind,omitempty"`
}

// MarshalJSON flattens Extra's fields alongside the envelope's own, so
// a handler can add `{job: {...}}` or `{stats: {...}}` without a
// wrapper type per route.
func (e Envelope) MarshalJSON() ([]byte, error) {
	success := 0
	if e.Success {
		success = 1
	}
	base := map[string]interface{}{
		"success": success,
	}
	if e.Error != "" {
		base["error"] = e.Error
	}
	if e.ErrorExt.Kind != "" {
		base["error_ext"] = e.ErrorExt
	}
	if e.Warning != "" {
		base["warning"] = e.Warning
	}
	if e.Extra != nil {
		extra, err := json.Marshal(e.Extra)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(extra, &m); err != nil {
			return nil, err
		}
		for k, v := range m {
			base[k] = v
		}
	}
	return json.Marshal(base)
}

// Respond writes body as JSON with status, logging (but not failing
// the request on) an encode error.
func Respond(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("httpapi: failed to encode response", err)
	}
}

// Success replies 200 with success:1 and extra flattened in.
func Success(w http.ResponseWriter, extra interface{}) {
	Respond(w, http.StatusOK, Envelope{Success: true, Extra: extra})
}

// Fail replies with success:0, an error message and, when err carries
// a types.ErrorKind, error_ext.kind, at the status the kind maps to.
func Fail(w http.ResponseWriter, err error) {
	Respond(w, statusForKind(types.Kind(err)), Envelope{
		Success:  false,
		Error:    err.Error(),
		ErrorExt: errorExt{Kind: types.Kind(err).String()},
	})
}

func statusForKind(k types.ErrorKind) int {
	switch k {
	case types.KindConfig:
		return http.StatusBadRequest
	case types.KindWorkerRefusal:
		return http.StatusConflict
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindCancelled:
		return http.StatusRequestTimeout
	case types.KindStore, types.KindTransport, types.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
