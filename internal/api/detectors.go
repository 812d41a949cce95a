package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-slsdet/internal/history"
	"github.com/nerrad567/gray-logic-slsdet/internal/port"
)

// History query limits.
const (
	defaultHistoryLimit = history.DefaultLimit
	maxHistoryLimit     = history.MaxLimit
)

// detectorSummary is one entry of the detector list.
type detectorSummary struct {
	Address   int    `json:"address"`
	Hostname  string `json:"hostname"`
	Connected bool   `json:"connected"`
}

// detectorDetail is a detector with its cached values.
type detectorDetail struct {
	detectorSummary
	Values map[string]any `json:"values"`
}

// paramResponse is a single parameter value.
type paramResponse struct {
	Address int            `json:"address"`
	Param   string         `json:"param"`
	Type    port.ParamType `json:"type"`
	Value   any            `json:"value"`
	// Label is the enum choice name for enumerated parameters.
	Label    string        `json:"label,omitempty"`
	Severity port.Severity `json:"severity,omitempty"`
	Cached   bool          `json:"cached,omitempty"`
}

// setParamRequest is the body of PUT /params/{name}.
type setParamRequest struct {
	Value any `json:"value"`
}

// parseAddr reads the {addr} URL parameter and checks it against the port.
func (s *Server) parseAddr(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	addr, err := strconv.Atoi(chi.URLParam(r, "addr"))
	if err != nil {
		writeBadRequest(w, "address must be an integer")
		return 0, "", false
	}
	hostname, err := s.port.Hostname(addr)
	if err != nil {
		writePortError(w, err)
		return 0, "", false
	}
	return addr, hostname, true
}

// handleListDetectors lists every address of the port.
func (s *Server) handleListDetectors(w http.ResponseWriter, _ *http.Request) {
	n := s.port.NumAddresses()
	list := make([]detectorSummary, 0, n)
	for addr := range n {
		hostname, err := s.port.Hostname(addr)
		if err != nil {
			continue
		}
		list = append(list, detectorSummary{
			Address:   addr,
			Hostname:  hostname,
			Connected: s.port.IsConnected(addr),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"port":          s.port.Name(),
		"num_addresses": n,
		"num_connected": s.port.NumConnected(),
		"detectors":     list,
	})
}

// handleGetDetector returns one address with its cached parameter values.
func (s *Server) handleGetDetector(w http.ResponseWriter, r *http.Request) {
	addr, hostname, ok := s.parseAddr(w, r)
	if !ok {
		return
	}
	values, err := s.port.Snapshot(addr)
	if err != nil {
		writePortError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detectorDetail{
		detectorSummary: detectorSummary{
			Address:   addr,
			Hostname:  hostname,
			Connected: s.port.IsConnected(addr),
		},
		Values: values,
	})
}

// handleGetParam reads a parameter. With ?cached=true the last known value
// is returned without contacting the detector.
func (s *Server) handleGetParam(w http.ResponseWriter, r *http.Request) {
	addr, _, ok := s.parseAddr(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	param, known := port.LookupParam(name)
	if !known {
		writeNotFound(w, "unknown parameter: "+name)
		return
	}

	cached := r.URL.Query().Get("cached") == "true"
	var value any
	if cached {
		v, found := s.port.Value(addr, name)
		if !found {
			writePortError(w, port.ErrUndefined)
			return
		}
		value = v
	} else {
		v, err := s.port.Read(addr, name)
		if err != nil {
			writePortError(w, err)
			return
		}
		value = v
	}

	resp := newParamResponse(addr, param, value)
	resp.Cached = cached
	writeJSON(w, http.StatusOK, resp)
}

// handleSetParam writes a setpoint and records it in history.
func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	addr, hostname, ok := s.parseAddr(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	param, known := port.LookupParam(name)
	if !known {
		writeNotFound(w, "unknown parameter: "+name)
		return
	}

	var req setParamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := s.port.WriteValue(addr, name, req.Value); err != nil {
		s.logger.Warn("parameter write failed",
			"address", addr,
			"param", name,
			"subject", subjectFromContext(r.Context()),
			"error", err,
		)
		writePortError(w, err)
		return
	}

	value, _ := s.port.Value(addr, name) //nolint:errcheck // set by the successful write
	s.logger.Info("parameter written",
		"address", addr,
		"param", name,
		"value", value,
		"subject", subjectFromContext(r.Context()),
	)

	if s.history != nil {
		err := s.history.Record(r.Context(), history.Reading{
			Port:     s.port.Name(),
			Address:  addr,
			Hostname: hostname,
			Param:    name,
			Value:    value,
			Source:   history.SourceAPI,
		})
		if err != nil {
			s.logger.Warn("failed to record parameter history", "param", name, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, newParamResponse(addr, param, value))
}

// handleConnect connects one address.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	addr, hostname, ok := s.parseAddr(w, r)
	if !ok {
		return
	}
	if err := s.port.Connect(addr); err != nil {
		writePortError(w, err)
		return
	}
	s.logger.Info("detector connected via API", "address", addr, "subject", subjectFromContext(r.Context()))
	writeJSON(w, http.StatusOK, detectorSummary{Address: addr, Hostname: hostname, Connected: s.port.IsConnected(addr)})
}

// handleDisconnect disconnects one address.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	addr, hostname, ok := s.parseAddr(w, r)
	if !ok {
		return
	}
	if err := s.port.Disconnect(addr); err != nil {
		writePortError(w, err)
		return
	}
	s.logger.Info("detector disconnected via API", "address", addr, "subject", subjectFromContext(r.Context()))
	writeJSON(w, http.StatusOK, detectorSummary{Address: addr, Hostname: hostname, Connected: s.port.IsConnected(addr)})
}

// handleHistory lists recorded values, newest first.
//
// Query parameters: param (optional filter), limit (default 50, max 200).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "parameter history is not enabled")
		return
	}
	addr, _, ok := s.parseAddr(w, r)
	if !ok {
		return
	}

	param := r.URL.Query().Get("param")
	if param != "" {
		if _, known := port.LookupParam(param); !known {
			writeNotFound(w, "unknown parameter: "+param)
			return
		}
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	readings, err := s.history.List(r.Context(), s.port.Name(), addr, param, limit)
	if err != nil {
		s.logger.Error("failed to list parameter history", "address", addr, "error", err)
		writeInternalError(w, "failed to list history")
		return
	}
	if readings == nil {
		readings = []history.Reading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr,
		"param":    param,
		"count":    len(readings),
		"readings": readings,
	})
}

// handleGetEnum lists the choices of an enumerated parameter.
func (s *Server) handleGetEnum(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "param")
	choices, err := port.ReadEnum(name)
	if err != nil {
		if errors.Is(err, port.ErrWrongType) {
			writeBadRequest(w, err.Error())
			return
		}
		writePortError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"param":   name,
		"choices": choices,
	})
}

func newParamResponse(addr int, param port.Param, value any) paramResponse {
	resp := paramResponse{
		Address: addr,
		Param:   param.Name,
		Type:    param.Type,
		Value:   value,
	}
	if param.Enum != nil {
		if v, ok := value.(int32); ok {
			if e, found := param.Enum.Lookup(v); found {
				resp.Label = e.Name
				resp.Severity = e.Severity
			}
		}
	}
	return resp
}
