package admission

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// AnonymousIdentifier is the shared bucket for requests whose caller identity
// cannot be derived at all. It rides on the tier's normal limit, which keeps
// an unresolvable flood conservatively throttled instead of unlimited.
const AnonymousIdentifier = "anon"

type contextKey int

const callerIDKey contextKey = iota

// WithCallerID attaches an authenticated caller id to the request context.
// The authentication layer is an external collaborator; this is the only
// piece of it the admission layer consumes.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

// CallerIDFrom extracts the authenticated caller id, if any.
func CallerIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey).(string)
	return id, ok && id != ""
}

// Resolver derives the opaque per-caller key used for counting. An
// authenticated caller id always wins over network identity. Unauthenticated
// callers are keyed by peer address plus a coarse header fingerprint, and
// forwarding headers are honored only when the direct peer is on the trusted
// proxy allowlist - a forged X-Forwarded-For from an untrusted peer must not
// let a caller mint fresh identifiers.
//
// Identifiers are emitted as hashes, never as raw addresses or account ids.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver builds a resolver from the trusted proxy allowlist. Entries may
// be bare addresses or CIDR prefixes.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	prefixes := make([]netip.Prefix, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return &Resolver{trusted: prefixes}, nil
}

// Resolve returns the counting identifier for a request.
func (rv *Resolver) Resolve(r *http.Request) string {
	if id, ok := CallerIDFrom(r.Context()); ok {
		return "u:" + hashString(id)
	}

	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return AnonymousIdentifier
	}

	client := peer.String()
	if rv.trustedPeer(peer) {
		if forwarded := clientFromForwardHeaders(r); forwarded != "" {
			client = forwarded
		}
	}

	return "ip:" + hashString(client+"|"+fingerprint(r))
}

func (rv *Resolver) trustedPeer(addr netip.Addr) bool {
	for _, p := range rv.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr parses the transport peer from RemoteAddr.
func peerAddr(remoteAddr string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// clientFromForwardHeaders returns the originating client address from
// X-Forwarded-For (first hop) or X-Real-IP. Only called for trusted peers.
func clientFromForwardHeaders(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if addr, err := netip.ParseAddr(first); err == nil {
			return addr.Unmap().String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return ""
}

// fingerprint hashes a small, stable subset of headers so callers behind one
// NAT address do not all collapse into a single bucket. The inputs are
// spoofable, but only ever narrow a bucket; the address component cannot be
// forged past the trusted-proxy check.
func fingerprint(r *http.Request) string {
	d := xxhash.New()
	d.WriteString(r.Header.Get("User-Agent"))
	d.WriteString("|")
	d.WriteString(r.Header.Get("Accept-Language"))
	d.WriteString("|")
	d.WriteString(r.Header.Get("Accept-Encoding"))
	return strconv.FormatUint(d.Sum64(), 16)
}

func hashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
