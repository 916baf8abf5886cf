package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
)

// settings reads typed values from the string based apt config. Values
// that are missing or do not parse fall back to the default and are logged.
type settings struct {
	config *apt.Config
	logger apt.Logger
}

func (s settings) str(key, def string) string {
	return s.config.GetStringOrDef(key, def)
}

func (s settings) integer(key string, def int) int {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.invalid(key, raw, err)
		return def
	}
	return v
}

func (s settings) integer64(key string, def int64) int64 {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.invalid(key, raw, err)
		return def
	}
	return v
}

func (s settings) float(key string, def float64) float64 {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.invalid(key, raw, err)
		return def
	}
	return v
}

func (s settings) duration(key string, def time.Duration) time.Duration {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		s.invalid(key, raw, err)
		return def
	}
	return v
}

func (s settings) enabled(key string) bool {
	raw, ok := s.lookup(key)
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.invalid(key, raw, err)
		return false
	}
	return v
}

func (s settings) lookup(key string) (string, bool) {
	raw, ok := s.config.GetString(key)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (s settings) invalid(key, raw string, err error) {
	s.logger.Error("invalid config value, using default", "key", key, "value", raw, "error", err)
}
