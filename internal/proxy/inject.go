package proxy

import (
	"net/http"
	"net/textproto"
	"strings"

	"github.com/dependabot/registry-proxy/internal/model"
)

// Hop-by-hop headers. These are removed when sent to the backend.
// As of RFC 7230, hop-by-hop headers are required to appear in the
// Connection header field.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, f := range hopHeaders {
		h.Del(f)
	}
}

// inject attaches the credential to an outgoing request. A client supplied Authorization header
// is replaced.
func inject(req *http.Request, cred *model.Credential) {
	switch cred.Kind {
	case model.KindBasic:
		req.Header.Del("Authorization")
		req.SetBasicAuth(cred.Username, cred.Password)
	case model.KindBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case model.KindTokenQueryParam:
		q := req.URL.Query()
		q.Set(cred.Param(), cred.Token)
		req.URL.RawQuery = q.Encode()
	}
}
