package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
)

const recordPageSize = 50

var recordTemplate = template.Must(template.New("records").Parse(`<html><body>
<h1>Populate History</h1>
<table>
<tr><th>Key</th><th>Size</th><th>Origin</th><th>User</th><th>When</th></tr>
{{ range . }}
<tr><td><a href="/bundle/{{ .Key }}/info">{{ .Key }}</a></td>
<td>{{ .Size }}</td>
<td>{{ .Origin }}</td>
<td>{{ .User }}</td>
<td>{{ .Created }}</td></tr>
{{ end }}
</table>
</body></html>`))

// RecordsHandler handles GET requests to "/records". It returns the most
// recent populates, newest first. The optional query parameter "n" asks
// for a different number of rows.
func (s *RESTServer) RecordsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit := recordPageSize
	if n, err := strconv.Atoi(r.FormValue("n")); err == nil && n > 0 {
		limit = n
	}
	records, err := s.Records.Recent(limit)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err)
		return
	}
	writeHTMLorJSON(w, r, recordTemplate, records)
}
