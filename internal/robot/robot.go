// ABOUTME: Classifies User-Agent strings against a robot pattern set
// ABOUTME: Patterns load once at startup; the detector is immutable

package robot

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// EmptyUserAgent is the marker reported for requests carrying no
// User-Agent header. An absent User-Agent always classifies as a robot.
const EmptyUserAgent = "Empty User-Agent"

// Detector classifies client-identification strings against a fixed,
// ordered pattern set. It is immutable and safe for concurrent use.
type Detector struct {
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// New compiles the given patterns into a Detector. Pattern order is
// preserved; classification reports the first match.
func New(patterns []string, logger *slog.Logger) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling robot pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return &Detector{patterns: compiled, logger: logger}, nil
}

// LoadPatterns reads a pattern file with one expression per line.
// Blank lines are skipped; surrounding whitespace is stripped.
func LoadPatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening robot pattern file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading robot pattern file: %w", err)
	}

	return patterns, nil
}

// Classify reports whether the User-Agent string identifies a robot and
// returns the name to tag the request with. An empty userAgent means the
// header was absent and is itself a match. Classification only tags;
// it never blocks a request.
func (d *Detector) Classify(userAgent string) (string, bool) {
	if userAgent == "" {
		d.logger.Info("request identified as robot", "user_agent", EmptyUserAgent)
		return EmptyUserAgent, true
	}

	for _, re := range d.patterns {
		if re.MatchString(userAgent) {
			d.logger.Info("request identified as robot", "user_agent", userAgent)
			return userAgent, true
		}
	}

	return "", false
}
