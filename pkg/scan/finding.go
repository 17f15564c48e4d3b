package scan

import (
	"strconv"
	"strings"
)

// ServiceFinding pairs an open port with its web classification.
// Port is always a member of the PortSet the finding was parsed against.
type ServiceFinding struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	IsWeb    bool   `json:"is_web"`
	Service  string `json:"service,omitempty"`
	Banner   string `json:"banner,omitempty"`
}

// Scheme returns the URL scheme enumeration tools should use for this port.
func (f ServiceFinding) Scheme() string {
	text := strings.ToLower(f.Banner)
	switch {
	case strings.Contains(text, "https"),
		strings.Contains(text, "ssl/"),
		strings.Contains(text, "tls"),
		f.Port == 443, f.Port == 8443:
		return "https"
	default:
		return "http"
	}
}

// URL returns the endpoint for host, which must already be URL-ready
// (IPv6 literals bracketed).
func (f ServiceFinding) URL(host string) string {
	return f.Scheme() + "://" + host + ":" + strconv.Itoa(f.Port)
}

// WebOnly returns the web findings of fs, preserving order.
func WebOnly(fs []ServiceFinding) []ServiceFinding {
	var out []ServiceFinding
	for _, f := range fs {
		if f.IsWeb {
			out = append(out, f)
		}
	}
	return out
}
