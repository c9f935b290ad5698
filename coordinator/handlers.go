package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tarancss/walletlink/connection"
	"github.com/tarancss/walletlink/lib/types"
)

// Response defines the data structure returned to the client making the http request. Body holds the JSON encoded
// result; on failure Code and Guidance tell the UI what happened and what the user can do.
type Response struct {
	Body     string `json:"body"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// Status is the body of /status.
type Status struct {
	connection.Snapshot
	Name string `json:"name,omitempty"` // registered name of the connected address
}

// statusOf maps an error class to an http status code.
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrProviderRejected):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNoProviderDetected):
		return http.StatusNotFound
	case errors.Is(err, types.ErrProviderResponseInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrRelayUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrStorageUnavailable):
		return http.StatusOK // the operation happened, it just will not be remembered
	default:
		return http.StatusInternalServerError
	}
}

// reply writes body (if any) and err to the client.
func (c *Coordinator) reply(rw http.ResponseWriter, r *http.Request, body interface{}, err error) {
	var res Response

	if body != nil {
		tmp, _ := json.Marshal(body)
		res.Body = string(tmp)
	}

	if err != nil {
		res.Error = err.Error()
		res.Code = types.Code(err)
		res.Guidance = types.Guidance(err)
	}

	c.logger.Info("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI), zap.String("code", res.Code),
		zap.Error(err))

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(statusOf(err))
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (c *Coordinator) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	c.logger.Debug("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI))

	res.Body = "Hello, this is your wallet connection bridge!"

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// providersHandler replies the supported providers in priority order.
func (c *Coordinator) providersHandler(rw http.ResponseWriter, r *http.Request) {
	c.reply(rw, r, c.conn.Providers(), nil)
}

// detectHandler runs a detection pass in the page and replies its results.
func (c *Coordinator) detectHandler(rw http.ResponseWriter, r *http.Request) {
	rs, err := c.conn.Detect(r.Context())
	c.reply(rw, r, rs, err)
}

// connectHandler connects to a wallet. The optional query ?provider=<id> names the provider to try first.
func (c *Coordinator) connectHandler(rw http.ResponseWriter, r *http.Request) {
	preferred := r.URL.Query().Get("provider")

	if preferred != "" && !c.known(preferred) {
		c.reply(rw, r, nil, types.ErrUnknownProvider)

		return
	}

	res, err := c.conn.Connect(r.Context(), preferred)
	c.reply(rw, r, res, err)
}

func (c *Coordinator) known(id string) bool {
	for _, d := range c.conn.Providers() {
		if d.ID == id {
			return true
		}
	}

	return false
}

// disconnectHandler forgets the connection.
func (c *Coordinator) disconnectHandler(rw http.ResponseWriter, r *http.Request) {
	err := c.conn.Disconnect(r.Context())
	c.reply(rw, r, c.conn.Status(r.Context()), err)
}

// statusHandler replies the connection state and, when connected, the name registered for the address. A failing
// name lookup is logged and otherwise ignored.
func (c *Coordinator) statusHandler(rw http.ResponseWriter, r *http.Request) {
	s := Status{Snapshot: c.conn.Status(r.Context())}

	if s.Connection != nil && c.names != nil {
		name, err := c.names.LookupNameByAddress(r.Context(), s.Connection.Address)
		if err != nil {
			c.logger.Info("name lookup failed", zap.String("address", s.Connection.Address), zap.Error(err))
		}

		s.Name = name
	}

	c.reply(rw, r, s, nil)
}
