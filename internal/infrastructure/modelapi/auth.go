package modelapi

import (
	"net/http"
	"sort"
	"strings"

	"resty.dev/v3"
)

// Cloudflare Access service token headers used when the API sits behind Zero Trust.
const (
	HeaderCFAccessClientID     = "CF-Access-Client-Id"
	HeaderCFAccessClientSecret = "CF-Access-Client-Secret"
)

// Authenticator attaches credentials to an outgoing request.
// The implementations below are the complete set; pick one with NewAuthenticator.
type Authenticator interface {
	Apply(r *resty.Request)
	Name() string
}

// Header is a single static header name/value pair.
type Header struct {
	Name  string
	Value string
}

// NoAuth sends requests without credentials.
type NoAuth struct{}

func (NoAuth) Apply(*resty.Request) {}

func (NoAuth) Name() string { return "none" }

// BearerAuth sends "Authorization: Bearer <token>".
type BearerAuth struct {
	Token string
}

func (a BearerAuth) Apply(r *resty.Request) {
	r.SetHeader("Authorization", "Bearer "+a.Token)
}

func (BearerAuth) Name() string { return "bearer" }

// BearerServiceAuth sends a bearer token plus static service headers,
// e.g. a Cloudflare Access client id/secret pair.
type BearerServiceAuth struct {
	Token   string
	Headers []Header
}

func (a BearerServiceAuth) Apply(r *resty.Request) {
	if a.Token != "" {
		r.SetHeader("Authorization", "Bearer "+a.Token)
	}
	for _, h := range a.Headers {
		r.SetHeader(h.Name, h.Value)
	}
}

func (BearerServiceAuth) Name() string { return "bearer+service" }

// NewAuthenticator selects the strategy from the configured credentials.
// Headers with an empty name or value are ignored.
func NewAuthenticator(token string, headers map[string]string) Authenticator {
	token = strings.TrimSpace(token)

	pairs := make([]Header, 0, len(headers))
	for name, value := range headers {
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		pairs = append(pairs, Header{Name: http.CanonicalHeaderKey(name), Value: value})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })

	switch {
	case token == "" && len(pairs) == 0:
		return NoAuth{}
	case len(pairs) == 0:
		return BearerAuth{Token: token}
	default:
		return BearerServiceAuth{Token: token, Headers: pairs}
	}
}
