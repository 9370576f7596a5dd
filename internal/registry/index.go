package registry

import (
	"net/url"
	"strings"

	"github.com/dependabot/registry-proxy/internal/model"
)

// Index answers the per-request questions the proxy asks about resolved registries. It is
// read-only after construction and safe for concurrent use.
type Index struct {
	byAuthority map[string][]indexed
}

type indexed struct {
	endpoint endpoint
	registry model.ValidRegistry
}

func authority(scheme, host, port string) string {
	return scheme + "://" + strings.ToLower(host) + ":" + port
}

// NewIndex indexes registries by scheme, host and port. Registries with an invalid URL are skipped.
func NewIndex(registries []model.ValidRegistry) *Index {
	idx := &Index{byAuthority: map[string][]indexed{}}
	for _, r := range registries {
		e, err := parseEndpoint(r.URL)
		if err != nil {
			continue
		}
		key := authority(e.scheme, e.host, e.port)
		idx.byAuthority[key] = append(idx.byAuthority[key], indexed{endpoint: e, registry: r})
	}
	return idx
}

// Intercepts reports whether a CONNECT to host:port reaches an https registry.
func (idx *Index) Intercepts(host, port string) bool {
	return len(idx.byAuthority[authority("https", host, port)]) > 0
}

// Lookup returns the registry whose URL is the longest path prefix of u. Registries resolved with
// a host-scoped credential cover every path on their host and rank below any path match.
func (idx *Index) Lookup(u *url.URL) (model.ValidRegistry, bool) {
	req := endpointOf(u)
	var best model.ValidRegistry
	bestScore := -2
	for _, cand := range idx.byAuthority[authority(req.scheme, req.host, req.port)] {
		score := -1
		if req.path == cand.endpoint.path || strings.HasPrefix(req.path, cand.endpoint.path+"/") {
			score = len(cand.endpoint.path)
		} else if cand.registry.Credential == nil || !cand.registry.Credential.HostScoped() {
			continue
		}
		if score > bestScore {
			best, bestScore = cand.registry, score
		}
	}
	return best, bestScore > -2
}
