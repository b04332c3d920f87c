package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Severity classifies threat patterns by how strongly a match indicates
// an abusive scan.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// severityWeights map a severity to its risk-score contribution.
var severityWeights = map[Severity]int{
	SeverityLow:      5,
	SeverityMedium:   15,
	SeverityHigh:     30,
	SeverityCritical: 50,
}

// blockScore is the cumulative risk score at which a request is blocked.
const blockScore = 50

// webhookTimeout bounds the outbound threat alert.
const webhookTimeout = 5 * time.Second

// scannerUserAgents are denylisted tool names, matched case-insensitively
// as a prefix of the user-agent token before "/".
var scannerUserAgents = []string{
	"sqlmap", "nikto", "dirb", "gobuster", "wfuzz", "masscan",
	"nmap", "zap", "burp", "acunetix", "nessus", "openvas",
}

// threatPattern is one classified URL/user-agent pattern.
type threatPattern struct {
	needle   string
	severity Severity
	label    string
}

// threatPatterns covers vulnerability scan paths, SQL injection markers,
// path traversal, and XSS markers. Matched against the lowercased URL
// and user-agent.
var threatPatterns = []threatPattern{
	// Vulnerability scan paths
	{"/wp-admin", SeverityHigh, "wordpress_scan"},
	{"/wp-login", SeverityHigh, "wordpress_scan"},
	{"/.env", SeverityCritical, "env_probe"},
	{".git/", SeverityCritical, "git_probe"},
	{"/phpmyadmin", SeverityHigh, "phpmyadmin_scan"},
	{"/config.php", SeverityHigh, "php_config_probe"},
	{"/xmlrpc.php", SeverityMedium, "xmlrpc_probe"},
	{"/cgi-bin/", SeverityMedium, "cgi_probe"},
	// SQL injection markers
	{"union select", SeverityCritical, "sql_injection"},
	{"' or 1=1", SeverityCritical, "sql_injection"},
	{"or 1=1--", SeverityCritical, "sql_injection"},
	{"information_schema", SeverityHigh, "sql_injection"},
	// Path traversal
	{"../", SeverityHigh, "path_traversal"},
	{"..%2f", SeverityHigh, "path_traversal"},
	// XSS markers
	{"<script", SeverityHigh, "xss_probe"},
	{"javascript:", SeverityMedium, "xss_probe"},
	{"onerror=", SeverityMedium, "xss_probe"},
}

// ThreatConfig holds threat detector settings.
type ThreatConfig struct {
	// MaxRequestsPerMinute is the per-IP ceiling within the sliding
	// 60-second window. Defaults to 30.
	MaxRequestsPerMinute int
	// WebhookURL receives fire-and-forget alerts for critical matches.
	// Empty disables alerting.
	WebhookURL string
	// CleanupInterval is how often stale per-IP sliding windows are
	// purged. Pattern scoring keeps no state.
	// Defaults to 1 hour.
	CleanupInterval time.Duration
}

// Verdict is the detector's decision for one request.
type Verdict struct {
	Blocked bool
	Reason  string
	Score   int
}

// ipWindow tracks request timestamps for one IP within the sliding window.
type ipWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// ThreatDetector scores requests for abusive scanning behavior. It fails
// open: any internal error allows the request.
type ThreatDetector struct {
	config     ThreatConfig
	windows    sync.Map // map[string]*ipWindow
	nowFunc    func() time.Time
	httpClient *http.Client
	stopCh     chan struct{}
}

// NewThreatDetector creates a detector and starts its background cleanup.
func NewThreatDetector(config ThreatConfig) *ThreatDetector {
	if config.MaxRequestsPerMinute == 0 {
		config.MaxRequestsPerMinute = 30
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Hour
	}

	d := &ThreatDetector{
		config:     config,
		nowFunc:    time.Now,
		httpClient: &http.Client{Timeout: webhookTimeout},
		stopCh:     make(chan struct{}),
	}
	go d.cleanup()
	return d
}

// Stop halts the background cleanup goroutine.
func (d *ThreatDetector) Stop() {
	close(d.stopCh)
}

// Inspect scores one request. Any panic inside the detector is swallowed
// and the request allowed.
func (d *ThreatDetector) Inspect(ip, method, url, userAgent string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("threat detector failed open", "panic", r)
			verdict = Verdict{}
		}
	}()

	if name, denied := deniedScanner(userAgent); denied {
		d.alert(ip, method, url, userAgent, "scanner_user_agent:"+name, SeverityCritical)
		return Verdict{Blocked: true, Reason: "scanner user agent: " + name, Score: severityWeights[SeverityCritical]}
	}

	if d.overRateCeiling(ip) {
		return Verdict{Blocked: true, Reason: "per-ip request ceiling exceeded", Score: severityWeights[SeverityHigh]}
	}

	score, worst, labels := d.scorePatterns(url, userAgent)
	if worst == SeverityCritical {
		d.alert(ip, method, url, userAgent, strings.Join(labels, ","), worst)
	}
	if score >= blockScore {
		return Verdict{Blocked: true, Reason: "threat patterns: " + strings.Join(labels, ","), Score: score}
	}

	return Verdict{Score: score}
}

// deniedScanner reports whether the user agent's leading token (before
// any "/") prefix-matches a denylisted scanner name.
func deniedScanner(userAgent string) (string, bool) {
	token := strings.ToLower(strings.TrimSpace(userAgent))
	if i := strings.IndexByte(token, '/'); i >= 0 {
		token = token[:i]
	}
	for _, name := range scannerUserAgents {
		if strings.HasPrefix(token, name) {
			return name, true
		}
	}
	return "", false
}

// overRateCeiling records this request in the IP's sliding window and
// reports whether the window now exceeds the ceiling.
func (d *ThreatDetector) overRateCeiling(ip string) bool {
	now := d.nowFunc()
	cutoff := now.Add(-time.Minute)

	val, _ := d.windows.LoadOrStore(ip, &ipWindow{})
	w := val.(*ipWindow)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.timestamps = pruneExpired(w.timestamps, cutoff)
	w.timestamps = append(w.timestamps, now)
	return len(w.timestamps) > d.config.MaxRequestsPerMinute
}

// scorePatterns sums the severity weights of every pattern matched by
// the lowercased URL or user agent.
func (d *ThreatDetector) scorePatterns(url, userAgent string) (int, Severity, []string) {
	haystack := strings.ToLower(url) + "\n" + strings.ToLower(userAgent)

	var score int
	worst := SeverityLow
	var labels []string
	for _, p := range threatPatterns {
		if strings.Contains(haystack, p.needle) {
			score += severityWeights[p.severity]
			if p.severity > worst {
				worst = p.severity
			}
			labels = append(labels, p.label)
		}
	}
	return score, worst, labels
}

// alert posts a fire-and-forget webhook notification for a critical match.
func (d *ThreatDetector) alert(ip, method, url, userAgent, reason string, severity Severity) {
	if d.config.WebhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"ip":         ip,
		"method":     method,
		"url":        url,
		"user_agent": userAgent,
		"reason":     reason,
		"severity":   int(severity),
		"at":         d.nowFunc().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	go func() {
		resp, err := d.httpClient.Post(d.config.WebhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			slog.Warn("threat webhook failed", "error", err)
			return
		}
		resp.Body.Close()
	}()
}

// cleanup purges stale sliding windows on the configured interval.
func (d *ThreatDetector) cleanup() {
	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			cutoff := d.nowFunc().Add(-time.Minute)
			d.windows.Range(func(key, value any) bool {
				w := value.(*ipWindow)
				w.mu.Lock()
				w.timestamps = pruneExpired(w.timestamps, cutoff)
				empty := len(w.timestamps) == 0
				w.mu.Unlock()
				if empty {
					d.windows.Delete(key)
				}
				return true
			})
		}
	}
}

// pruneExpired removes timestamps that are before the cutoff.
func pruneExpired(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			timestamps[idx] = t
			idx++
		}
	}
	return timestamps[:idx]
}

// ThreatGate returns middleware that blocks requests the detector flags.
// Blocking is the only transport-level rejection in the service; the
// response is a 429 with a small JSON error body.
func ThreatGate(d *ThreatDetector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := d.Inspect(ClientIP(r), r.Method, r.URL.String(), r.Header.Get("User-Agent"))
			if verdict.Blocked {
				slog.Warn("request blocked",
					"ip", ClientIP(r),
					"reason", verdict.Reason,
					"score", verdict.Score,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "request blocked",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
