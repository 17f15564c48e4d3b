package scan

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// maxLineSize bounds a single report line; script output can be long.
const maxLineSize = 1024 * 1024

// openLine matches "<port>/<proto> open[ <service text>]".
// "open|filtered" and other states are deliberately not matched.
var openLine = regexp.MustCompile(`^\s*(\d{1,5})/([A-Za-z]+)\s+open(?:\s+(.*?))?\s*$`)

// doneMarker starts the trailer a scanner writes once a report is
// complete: "# Nmap done at ..." in -oN files, "Nmap done: ..." on stdout.
const doneMarker = "Nmap done"

type openEntry struct {
	port  int
	proto string
	rest  string
}

// eachOpen calls fn for every "open" line in r. It stops at the first read
// error and returns it; whatever was read before the error has been
// delivered, which is what makes partial reports usable.
func eachOpen(r io.Reader, fn func(openEntry)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		m := openLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		fn(openEntry{port: port, proto: strings.ToLower(m[2]), rest: m[3]})
	}
	return sc.Err()
}

// ParseOpenPorts returns the distinct open ports listed in a port-scan
// report, in first-seen order. Invalid port numbers are ignored.
func ParseOpenPorts(r io.Reader) (PortSet, error) {
	var ps PortSet
	err := eachOpen(r, func(e openEntry) {
		ps.Add(e.port)
	})
	return ps, err
}

// ParseServices classifies the ports of a service-scan report.
// A port is web when its service/banner text contains "http" in any case,
// which covers http, https, http-alt, http-proxy and ssl/http.
// Only ports in ports are considered and the findings come back in
// ports order, one per port that appears in the report.
func ParseServices(r io.Reader, ports PortSet) ([]ServiceFinding, error) {
	byPort := make(map[int]ServiceFinding, ports.Len())
	err := eachOpen(r, func(e openEntry) {
		if !ports.Contains(e.port) {
			return
		}
		if _, dup := byPort[e.port]; dup {
			return
		}
		byPort[e.port] = ServiceFinding{
			Port:     e.port,
			Protocol: e.proto,
			IsWeb:    IsWebService(e.rest),
			Service:  firstField(e.rest),
			Banner:   e.rest,
		}
	})

	findings := make([]ServiceFinding, 0, len(byPort))
	for _, p := range ports.Ports() {
		if f, ok := byPort[p]; ok {
			findings = append(findings, f)
		}
	}
	return findings, err
}

// IsWebService reports whether service text names an HTTP-speaking service.
func IsWebService(text string) bool {
	return strings.Contains(strings.ToLower(text), "http")
}

// Complete reports whether the report carries the scanner's completion
// trailer. A killed scan leaves it out.
func Complete(r io.Reader) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimLeft(strings.TrimSpace(sc.Text()), "# ")
		if strings.HasPrefix(line, doneMarker) {
			return true, nil
		}
	}
	return false, sc.Err()
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
