package coordinator

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// timeout must outlast a full orchestration: detection plus every provider prompt.
const timeout = 5 * time.Minute

// Router returns the API definition.
func (c *Coordinator) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", c.homeHandler)
	r.HandleFunc("/providers", c.providersHandler).Methods("GET")    // supported providers
	r.HandleFunc("/detect", c.detectHandler).Methods("GET")          // run a detection pass in the page
	r.HandleFunc("/connect", c.connectHandler).Methods("POST")       // connect, ?provider=<id> to prefer one
	r.HandleFunc("/disconnect", c.disconnectHandler).Methods("POST") // forget the connection
	r.HandleFunc("/status", c.statusHandler).Methods("GET")          // connection state

	return r
}

// Init sets up and starts the http server to service the RESTful API on endpoint:port. It blocks until Stop is
// called.
func (c *Coordinator) Init(endpoint, port string) string {
	errCh := make(chan error, 1)

	if port != "" {
		c.mu.Lock()
		c.s = &http.Server{
			Handler:           c.Router(),
			Addr:              endpoint + ":" + port,
			WriteTimeout:      timeout,
			ReadTimeout:       timeout,
			ReadHeaderTimeout: 10 * time.Second,
		}

		s := c.s
		c.mu.Unlock()

		go func() {
			if e := s.ListenAndServe(); !errors.Is(e, http.ErrServerClosed) {
				errCh <- e
			}

			close(errCh)
		}()

		c.logger.Info("listening to API http requests", zap.String("endpoint", endpoint), zap.String("port", port))
	}
	// wait for server to be shutdown
	<-c.sc

	var err error
	if port != "" {
		err = <-errCh
	}

	return fmt.Sprintf("shutdown http server:%v", err)
}
