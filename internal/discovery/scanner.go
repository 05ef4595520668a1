// internal/discovery/scanner.go
package discovery

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// listPorts is replaced in tests
var listPorts = serial.GetPortsList

// Scanner lists serial devices a meter interface is likely attached to
type Scanner struct {
	logger   *zap.Logger
	patterns []string
}

// NewScanner creates a new serial port scanner. Nil patterns select the platform defaults.
func NewScanner(logger *zap.Logger, patterns []string) *Scanner {
	if patterns == nil {
		patterns = defaultPortPatterns(runtime.GOOS)
	}

	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		patterns: patterns,
	}
}

// Scan returns the sorted device paths matching the scanner patterns
func (s *Scanner) Scan() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	matched := make([]string, 0, len(ports))
	for _, port := range ports {
		if s.matches(port) {
			matched = append(matched, port)
		}
	}
	sort.Strings(matched)

	s.logger.Debug("Serial scan completed",
		zap.Int("ports_found", len(ports)),
		zap.Strings("candidates", matched),
	)
	return matched, nil
}

func (s *Scanner) matches(port string) bool {
	name := filepath.Base(port)
	for _, pattern := range s.patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func defaultPortPatterns(goos string) []string {
	switch goos {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"cu.usbserial*", "cu.usbmodem*", "tty.usbserial*"}
	default:
		// USB adapters, CDC modems, Raspberry Pi UART, on-board UARTs
		return []string{"ttyUSB*", "ttyACM*", "ttyAMA*", "serial*", "ttyS*"}
	}
}
