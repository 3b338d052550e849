package security

import (
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	applog "finapp/internal/log"
)

var (
	suspiciousPatterns = []string{
		"../", "..\\", ".env", "wp-admin", "phpmyadmin",
		"admin.php", "config.php", ".git", ".ssh",
		"eval(", "javascript:", "<script", "union select",
		"etc/passwd", "cmd.exe",
	}
	suspiciousAgents = []string{
		"sqlmap", "nmap", "nikto", "gobuster", "dirb", "masscan",
	}
	unusualMethods = []string{"TRACE", "TRACK", "DEBUG", "CONNECT"}

	defaultTrustedProxies = []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128"}
)

const (
	maxURLLength  = 2048
	maxProxyHops  = 5
	reasonPath    = "path"
	reasonQuery   = "query"
	reasonAgent   = "user_agent"
	reasonMethod  = "method"
	reasonLength  = "url_length"
	reasonProxies = "forwarded_hops"
)

// Detector flags suspicious requests and resolves client addresses behind trusted proxies.
type Detector struct {
	trustedProxies []*net.IPNet
	flagged        *prometheus.CounterVec
}

// NewDetector registers its counter on reg when reg is non-nil.
func NewDetector(reg prometheus.Registerer) *Detector {
	d := &Detector{
		flagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finapp",
			Subsystem: "http",
			Name:      "suspicious_requests_total",
			Help:      "Requests matching a suspicious pattern, by reason.",
		}, []string{"reason"}),
	}
	for _, cidr := range defaultTrustedProxies {
		if err := d.AddTrustedProxy(cidr); err != nil {
			panic(err)
		}
	}
	if reg != nil {
		reg.MustRegister(d.flagged)
	}
	return d
}

// Inspect returns the first reason r looks like a probe, or "" when it does not.
func (d *Detector) Inspect(r *http.Request) string {
	path := strings.ToLower(r.URL.Path)
	query := strings.ToLower(r.URL.RawQuery)
	for _, p := range suspiciousPatterns {
		if strings.Contains(path, p) {
			return d.flag(reasonPath)
		}
		if strings.Contains(query, p) {
			return d.flag(reasonQuery)
		}
	}

	agent := strings.ToLower(r.Header.Get("User-Agent"))
	for _, a := range suspiciousAgents {
		if strings.Contains(agent, a) {
			return d.flag(reasonAgent)
		}
	}

	for _, m := range unusualMethods {
		if r.Method == m {
			return d.flag(reasonMethod)
		}
	}

	if len(r.URL.String()) > maxURLLength {
		return d.flag(reasonLength)
	}
	if strings.Count(r.Header.Get("X-Forwarded-For"), ",") > maxProxyHops {
		return d.flag(reasonProxies)
	}
	return ""
}

func (d *Detector) flag(reason string) string {
	d.flagged.WithLabelValues(reason).Inc()
	return reason
}

// ExtractClientIP returns the direct peer address unless the peer is a
// trusted proxy, in which case the first valid forwarded address wins.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsed := net.ParseIP(directIP)
	if parsed == nil || !d.isTrustedProxy(parsed) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return errors.Wrapf(err, "invalid trusted proxy CIDR %q", cidr)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// Middleware rejects requests that look like probes with 400 and logs them.
func (d *Detector) Middleware(logger *applog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = applog.Nop()
	}
	logger = logger.WithComponent(applog.ComponentSecurity)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := d.Inspect(r); reason != "" {
				logger.WarnContext(r.Context(), "Suspicious request rejected",
					applog.FieldClientIP, d.ExtractClientIP(r),
					applog.FieldMethod, r.Method,
					applog.FieldPath, r.URL.Path,
					"reason", reason)
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
