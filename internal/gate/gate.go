package gate

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"rpcguard/internal/banstore"
	"rpcguard/internal/config"
	"rpcguard/internal/domain"
	"rpcguard/internal/geo"
	"rpcguard/internal/ingest"

	"github.com/charmbracelet/log"
)

const walletHeader = "X-Wallet-Address"

// Gate is the synchronous admission check in front of the RPC node. Per
// request: whitelist short-circuit, then ban checks for IP and wallet, then
// the rate budget, then forward. Every attempt, admitted or denied, is
// recorded asynchronously; recording never blocks the decision.
type Gate struct {
	bans      *banstore.Store
	whitelist *WhitelistCache
	budget    *rateBudget
	recorder  *ingest.Recorder
	geo       *geo.Resolver
	upstream  http.Handler
}

func New(bans *banstore.Store, whitelist *WhitelistCache, recorder *ingest.Recorder, geoResolver *geo.Resolver, upstream http.Handler) *Gate {
	return &Gate{
		bans:      bans,
		whitelist: whitelist,
		budget:    newRateBudget(),
		recorder:  recorder,
		geo:       geoResolver,
		upstream:  upstream,
	}
}

// NewUpstreamProxy builds the reverse proxy that forwards admitted requests
// to the RPC node.
func NewUpstreamProxy(target *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("Upstream RPC node unreachable", "error", err)
		writeDeny(w, http.StatusBadGateway, "upstream unavailable")
	}
	return proxy
}

func (g *Gate) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ip := clientIP(r)
		wallet := resolveWallet(r)

		if g.whitelist != nil && (g.whitelist.Contains(domain.IPIdentity(ip)) ||
			(wallet != "" && g.whitelist.Contains(domain.WalletIdentity(wallet)))) {
			g.forward(w, r, ip, wallet, start)
			return
		}

		if status, denied := g.checkBans(ip, wallet); denied {
			g.deny(w, r, ip, wallet, start, http.StatusForbidden, status.Reason)
			return
		}

		if !g.budget.Allow("ip:"+ip, start) ||
			(wallet != "" && !g.budget.Allow("wallet:"+wallet, start)) {
			g.deny(w, r, ip, wallet, start, http.StatusTooManyRequests, "rate budget exceeded")
			return
		}

		g.forward(w, r, ip, wallet, start)
	})
}

// checkBans consults the cached ban view for both identities. The snapshot
// answers from memory, so this stays well inside the hot-path budget. When
// the snapshot has never been built (store down at startup), the configured
// policy decides: fail open admits unknowns, fail closed denies everything
// until the first refresh succeeds.
func (g *Gate) checkBans(ip, wallet string) (banstore.BanStatus, bool) {
	if status := g.bans.IsBanned(domain.IPIdentity(ip)); status.Banned {
		return status, true
	}
	if wallet != "" {
		if status := g.bans.IsBanned(domain.WalletIdentity(wallet)); status.Banned {
			return status, true
		}
	}

	if g.bans.SnapshotAge(time.Now()) < 0 && !config.GetConfig().Gate.FailOpen {
		return banstore.BanStatus{Banned: true, Reason: "ban state unavailable"}, true
	}

	return banstore.BanStatus{}, false
}

func (g *Gate) forward(w http.ResponseWriter, r *http.Request, ip, wallet string, start time.Time) {
	capture := &statusCapture{ResponseWriter: w, status: http.StatusOK}
	g.upstream.ServeHTTP(capture, r)
	g.record(r, ip, wallet, capture.status, false, start)
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, ip, wallet string, start time.Time, status int, reason string) {
	writeDeny(w, status, reason)
	g.record(r, ip, wallet, status, true, start)
}

func (g *Gate) record(r *http.Request, ip, wallet string, status int, blocked bool, start time.Time) {
	entry := domain.RequestLogEntry{
		IP:            ip,
		Wallet:        wallet,
		Method:        r.Method,
		StatusCode:    status,
		Blocked:       blocked,
		LatencyMillis: time.Since(start).Milliseconds(),
		UserAgent:     r.UserAgent(),
		Country:       g.geo.Country(ip),
		RequestedAt:   start.UTC(),
	}

	if err := g.recorder.Record(entry); err != nil {
		// Losing an audit row is acceptable; blocking traffic is not.
		log.Warn("Request event dropped", "error", err, "ip", ip)
	}
}

func writeDeny(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (c *statusCapture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

// clientIP extracts the originating address, trusting the usual proxy
// headers before falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if normalized, err := domain.NormalizeIP(first); err == nil {
			return normalized
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		if normalized, err := domain.NormalizeIP(real); err == nil {
			return normalized
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if normalized, err := domain.NormalizeIP(host); err == nil {
		return normalized
	}
	return host
}

// resolveWallet pulls the wallet identity for authenticated JSON-RPC calls.
// A malformed address is treated as unresolvable, not as a request error.
func resolveWallet(r *http.Request) string {
	raw := r.Header.Get(walletHeader)
	if raw == "" {
		return ""
	}

	wallet, err := domain.NormalizeWallet(raw)
	if err != nil {
		return ""
	}
	return wallet
}
