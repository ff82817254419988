package model

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	expiresAttr = regexp.MustCompile(`(?i)expires=([^;]+)`)
	maxAgeAttr  = regexp.MustCompile(`(?i)max-age=(\d+)`)
)

// Layouts accepted for the Expires attribute, in addition to those known to http.ParseTime.
var expiresLayouts = []string{
	"Mon, 02-Jan-2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// ExpirationAssessment describes how long a credential remains usable.
// Remaining fields are whole units and never negative.
type ExpirationAssessment struct {
	ExpiresAt      time.Time
	DaysRemaining  int
	HoursRemaining int
	IsExpired      bool
	// MaxAge is the Max-Age attribute in seconds, or 0 when absent.
	MaxAge int64
}

// RenewalDue reports whether a credential with this assessment must be renewed
// given a threshold in days.
func (a ExpirationAssessment) RenewalDue(thresholdDays int) bool {
	return a.IsExpired || a.DaysRemaining <= thresholdDays
}

// AssessCredential extracts the expiry of a session cookie string. The Expires
// attribute wins over Max-Age; Max-Age is resolved relative to now.
func AssessCredential(credential string, now time.Time) (ExpirationAssessment, error) {
	if strings.TrimSpace(credential) == "" {
		return ExpirationAssessment{}, fmt.Errorf("credential is empty: %w", ErrMalformedCredential)
	}

	var result ExpirationAssessment

	maxAge := maxAgeAttr.FindStringSubmatch(credential)
	if maxAge != nil {
		seconds, err := strconv.ParseInt(maxAge[1], 10, 64)
		if err != nil {
			return ExpirationAssessment{}, fmt.Errorf("parse max-age %q: %w", maxAge[1], ErrMalformedCredential)
		}
		result.MaxAge = seconds
	}

	if expires := expiresAttr.FindStringSubmatch(credential); expires != nil {
		at, err := parseExpires(strings.TrimSpace(expires[1]))
		if err != nil {
			return ExpirationAssessment{}, fmt.Errorf("invalid expiration date %q: %w", expires[1], ErrMalformedCredential)
		}
		result.ExpiresAt = at
	} else if maxAge != nil {
		result.ExpiresAt = now.Add(time.Duration(result.MaxAge) * time.Second)
	} else {
		return ExpirationAssessment{}, fmt.Errorf("no expiration information: %w", ErrMalformedCredential)
	}

	remaining := result.ExpiresAt.Sub(now)
	result.IsExpired = remaining <= 0
	if remaining > 0 {
		result.DaysRemaining = int(remaining / (24 * time.Hour))
		result.HoursRemaining = int(remaining / time.Hour)
	}

	return result, nil
}

func parseExpires(s string) (time.Time, error) {
	if t, err := http.ParseTime(s); err == nil {
		return t, nil
	}
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}
