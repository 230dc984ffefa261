package metadata

import (
	"net/http"
	"net/netip"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	"eventlens/pkg/requestcontext"
)

const unknown = "unknown"

// Resolver works out the client address of a request. Forwarding headers are
// read only when the socket peer is one of the trusted proxies; any other
// peer is the client, whatever headers it sends.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver trusts the given proxy networks. With none, every request is
// keyed on its socket peer.
func NewResolver(trusted []netip.Prefix) *Resolver {
	return &Resolver{trusted: trusted}
}

// Middleware stores client IP, User-Agent, device summary and the chi request
// ID in the request context. Apply after chi's RequestID.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), res.ClientIP(r), ua)
		ctx = requestcontext.WithDevice(ctx, DeviceSummary(ua))
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceSummary reduces a User-Agent to "browser/os", "bot" or "unknown".
// Used in audit events so reviewers can spot scripted submissions.
func DeviceSummary(raw string) string {
	if raw == "" {
		return unknown
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	browser, _ := ua.Browser()
	os := ua.OS()
	if browser == "" && os == "" {
		return unknown
	}
	summary := browser + "/" + os
	if ua.Mobile() {
		summary += " (mobile)"
	}
	return summary
}

// ClientIP returns the socket peer unless it is a trusted proxy. Behind a
// trusted proxy it walks X-Forwarded-For from the right and returns the first
// hop outside the trusted networks; X-Real-IP is used only when no
// X-Forwarded-For is present. A malformed hop ends the walk at the last
// address that was vouched for.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer, ok := parsePeer(r.RemoteAddr)
	if !ok {
		return unknown
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	if len(hops) == 0 {
		if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return xri.Unmap().String()
		}
		return peer.String()
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !res.isTrusted(client) {
			break
		}
	}
	return client.String()
}

func (res *Resolver) isTrusted(addr netip.Addr) bool {
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePeer(remote string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// forwardedHops flattens repeated X-Forwarded-For headers in arrival order.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
