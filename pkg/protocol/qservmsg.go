package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// QservStatus is the worker-reported result code on the query-worker
// transport, translated by the control plane into a QservMgtRequest
// ExtendedState.
type QservStatus string

const (
	QservStatusOK    QservStatus = "OK"
	QservStatusError QservStatus = "ERROR"
)

// QservAddReplicaRequest builds the JSON body for an AddReplica
// management operation.
func QservAddReplicaRequest(database string, chunk uint32) ([]byte, error) {
	return buildJSON(map[string]interface{}{
		"service": "ADD_REPLICA",
		"database": database,
		"chunk":    chunk,
	})
}

// QservRemoveReplicaRequest builds the JSON body for a RemoveReplica
// management operation.
func QservRemoveReplicaRequest(database string, chunk uint32, force bool) ([]byte, error) {
	return buildJSON(map[string]interface{}{
		"service": "REMOVE_REPLICA",
		"database": database,
		"chunk":    chunk,
		"force":    force,
	})
}

// QservSetReplicasRequest builds the JSON body for a SetReplicas
// management operation: chunks is the complete set of chunks the
// worker should host for database after the call.
func QservSetReplicasRequest(database string, chunks []uint32, force bool) ([]byte, error) {
	return buildJSON(map[string]interface{}{
		"service":  "SET_REPLICAS",
		"database": database,
		"chunks":   chunks,
		"force":    force,
	})
}

// QservGetStatusRequest builds the JSON body for a GetStatus
// management operation.
func QservGetStatusRequest() ([]byte, error) {
	return buildJSON(map[string]interface{}{
		"service": "GET_STATUS",
	})
}

// QservTestEchoRequest builds the JSON body for a TestEcho management
// operation.
func QservTestEchoRequest(data string) ([]byte, error) {
	return buildJSON(map[string]interface{}{
		"service": "TEST_ECHO",
		"data":    data,
	})
}

func buildJSON(fields map[string]interface{}) ([]byte, error) {
	doc := "{}"
	var err error
	for k, v := range fields {
		doc, err = sjson.Set(doc, k, v)
		if err != nil {
			return nil, fmt.Errorf("protocol: build qserv request: %w", err)
		}
	}
	return []byte(doc), nil
}

// QservResponse is the parsed form of a query-worker JSON response
// body: a status envelope plus the raw result payload for callers
// that need fields beyond Status/Error.
type QservResponse struct {
	Status QservStatus
	Error  string
	Raw    gjson.Result
}

// ParseQservResponse extracts the status envelope from a query-worker
// JSON response body. Malformed JSON is a protocol error: the worker
// did not speak the transport we expect.
func ParseQservResponse(body []byte) (QservResponse, error) {
	if !gjson.ValidBytes(body) {
		return QservResponse{}, fmt.Errorf("protocol: qserv response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	status := QservStatusOK
	if s := root.Get("status"); s.Exists() && s.String() != "" {
		status = QservStatus(s.String())
	}
	return QservResponse{
		Status: status,
		Error:  root.Get("error").String(),
		Raw:    root,
	}, nil
}
