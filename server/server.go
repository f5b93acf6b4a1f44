// Package server provides the REST API in front of a vault.
package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"html/template"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"time"

	"github.com/facebookgo/httpdown"
	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"

	"github.com/depotvault/depotvault/delivery"
	"github.com/depotvault/depotvault/vault"
)

// Version is the version string reported by the root route. The main
// package sets it at startup.
var Version = "devel"

// RESTServer holds the configuration for a depotvault REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
//
// It should be enough to only set Vault. The other fields are exposed to
// allow more customization.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// Vault is the bundle cache. Run will panic if Vault is nil.
	Vault *vault.Vault

	// ChunkLimit is the largest chunk, in bytes, served by the chunk
	// routes. Zero means delivery.DefaultLimit.
	ChunkLimit int64

	// Pass in a dial command to use a MySQL server for populate records.
	// Otherwise a lightweight internal database is used at RecordPath.
	// e.g. "user:password@tcp(localhost:5555)/dbname" or just "/dbname"
	// if everything else can be the default.
	MySQL string

	// RecordPath is the file holding the internal record database. The
	// special value "memory" (also the default) keeps the records
	// entirely inside the server's memory.
	RecordPath string

	// --- The following fields are more advanced and only need to be
	// set in special situations. ---

	// Validator does authentication by decoding any user tokens
	// presented to the API. If this is nil then no authentication will
	// be done.
	Validator TokenDecoder

	// Cooldown limits how often each user may trigger a populate. If
	// this is nil, populates are not rate limited.
	Cooldown *Cooldown

	// Records stores one row per completed populate. If nil, a database
	// is opened according to MySQL and RecordPath.
	Records RecordDB

	server httpdown.Server // used to close our listening socket
}

// Run initializes the server and then blocks listening for and handling
// http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Depotvault Server version %s", Version)

	if s.Vault == nil {
		panic("No vault given. Vault is nil.")
	}
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}
	if s.ChunkLimit <= 0 {
		s.ChunkLimit = delivery.DefaultLimit
	}

	// init record database
	if s.Records == nil {
		var err error
		if s.MySQL != "" {
			log.Printf("Using MySQL")
			s.Records, err = NewMysqlRecords(s.MySQL)
		} else {
			path := s.RecordPath
			if path == "" {
				path = "memory"
			}
			log.Printf("Using internal database at %s", path)
			s.Records, err = NewQlRecords(path)
		}
		if s.Records == nil || err != nil {
			panic("problem setting up record database")
		}
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/bundle/:key", RoleRead, s.BundleHandler},
		{"HEAD", "/bundle/:key", RoleRead, s.BundleHandler},
		{"GET", "/bundle/:key/info", RoleMDOnly, s.BundleInfoHandler},
		{"GET", "/bundle/:key/chunk/:n", RoleRead, s.ChunkHandler},
		{"POST", "/bundle/:key", RoleWrite, s.PopulateHandler},

		// the read only cache key listings
		{"GET", "/list/:prefix", RoleRead, s.ListPrefixHandler},
		{"GET", "/list/", RoleRead, s.ListHandler},

		// populate history
		{"GET", "/records", RoleMDOnly, s.RecordsHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// WelcomeHandler handles GET requests to "/".
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Depotvault (%s)\n", Version)
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// writeHTMLorJSON will either return val as JSON or as rendered using the
// given template, depending on the request header "Accept-Encoding".
func writeHTMLorJSON(w http.ResponseWriter,
	r *http.Request,
	tmpl *template.Template,
	val interface{}) {

	if r.Header.Get("Accept-Encoding") == "application/json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(val)
		return
	}
	tmpl.Execute(w, val)
}

// writeVaultError maps a vault error to a status code and writes it out.
// Unexpected errors become a 500 and are reported upstream.
func writeVaultError(w http.ResponseWriter, key string, err error) {
	switch err {
	case vault.ErrInvalidKey:
		w.WriteHeader(400)
	case vault.ErrNotFound, vault.ErrNoOrigin:
		w.WriteHeader(404)
	case vault.ErrExists:
		w.WriteHeader(409)
	default:
		raven.CaptureError(err, map[string]string{"key": key})
		w.WriteHeader(500)
	}
	fmt.Fprintln(w, err.Error())
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		// remove any previous username
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				goto out
			}
		}
		// add a new username if none found
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
	out:
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

// retryAfter formats a wait duration for the Retry-After header, rounding
// up so a client that waits exactly this long is past the cooldown.
func retryAfter(wait time.Duration) string {
	secs := int64(wait / time.Second)
	if wait%time.Second != 0 {
		secs++
	}
	return fmt.Sprintf("%d", secs)
}
